package engine

import (
	"encoding/base64"
	"encoding/json"
)

// EmptyBodyHash — канонический хэш отсутствующего тела
const EmptyBodyHash = "empty"

// HashBody строит стабильный идемпотентный ключ по телу запроса: логически
// равные payload'ы хэшируются одинаково независимо от порядка ключей на любом
// уровне вложенности. Нормализация бесплатная — encoding/json сортирует ключи
// map при маршалинге, так что unmarshal+marshal и есть канонизация.
func HashBody(raw []byte) string {
	if len(raw) == 0 {
		return EmptyBodyHash
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		// Не-JSON тело хэшируем по сырым байтам
		return truncate(base64.StdEncoding.EncodeToString(raw))
	}
	if v == nil {
		return EmptyBodyHash
	}

	normalized, err := json.Marshal(v)
	if err != nil {
		return truncate(base64.StdEncoding.EncodeToString(raw))
	}
	return truncate(base64.StdEncoding.EncodeToString(normalized))
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32]
	}
	return s
}
