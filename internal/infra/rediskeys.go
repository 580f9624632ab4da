package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "toolgate"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPolicyUpdate — сигнал шлюзам о смене активной версии политики
	RedisChanPolicyUpdate = RedisNamespace + ":policy-update"
)
