package domain

// ApprovalStats — срез очереди подтверждений для дашборда оператора
type ApprovalStats struct {
	Total    int                    `json:"total"`
	ByStatus map[ApprovalStatus]int `json:"byStatus"`
}
