package store

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/xela07ax/toolgate/internal/domain"
)

// ErrVersionNotFound возвращается при активации несуществующей версии
var ErrVersionNotFound = errors.New("policy version not found")

// PolicyVersion — опубликованный снимок политики. Активной может быть
// только одна версия; публикация не активирует
type PolicyVersion struct {
	ID          string        `json:"id"`
	Version     int           `json:"version"`
	Policy      domain.Policy `json:"policy"`
	Active      bool          `json:"active"`
	PublishedAt time.Time     `json:"publishedAt"`
}

// Store — хранилище версий политики коллектора
type Store interface {
	Publish(ctx context.Context, p domain.Policy) (*PolicyVersion, error)
	Activate(ctx context.Context, id string) (*PolicyVersion, error)
	// GetActive возвращает nil, nil если активной версии нет
	GetActive(ctx context.Context) (*PolicyVersion, error)
	// ListVersions отдает версии от новых к старым
	ListVersions(ctx context.Context) ([]PolicyVersion, error)
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewVersionID генерирует идентификатор версии: pv_<ms в base36>_<6 случайных>
func NewVersionID() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = base36Alphabet[rand.Intn(len(base36Alphabet))]
	}
	return "pv_" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "_" + string(suffix)
}
