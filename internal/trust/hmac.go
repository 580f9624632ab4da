package trust

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Заголовки цепочки доверия. Имена фиксированы контрактом между хопами.
const (
	HeaderSignature = "X-Toolgate-Sig"
	HeaderTimestamp = "X-Toolgate-Ts"
)

// DefaultMaxSkew — допустимый разбег часов для подписей с таймстемпом
const DefaultMaxSkew = 300 * time.Second

var (
	ErrBadSignature = errors.New("signature mismatch")
	ErrClockSkew    = errors.New("signature timestamp outside allowed skew")
)

// Sign — hex(HMAC-SHA256(key, payload)). Канонический payload задается хопом:
// сырые байты тела для входящего трафика, композитная строка для прокси-вызовов.
func Sign(key string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SafeEqual — сравнение за константное время. Обычный == здесь запрещен:
// короткое замыкание по первому расхождению дает тайминговый сайд-канал.
func SafeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Verify пересчитывает подпись и сравнивает константно
func Verify(key string, payload []byte, hexSig string) error {
	if !SafeEqual(Sign(key, payload), hexSig) {
		return ErrBadSignature
	}
	return nil
}

// ProxyPayload — канонический payload для хопа шлюз → коллектор.
// Таймстемп включается в подписанную строку, поэтому его подмена ломает подпись.
func ProxyPayload(method, url, traceID string, ts time.Time) []byte {
	return []byte(method + "\n" + url + "\n" + traceID + "\n" + strconv.FormatInt(ts.Unix(), 10))
}

// SignProxy подписывает прокси-вызов, возвращая подпись и строку таймстемпа
func SignProxy(key, method, url, traceID string, now time.Time) (sig, tsHeader string) {
	return Sign(key, ProxyPayload(method, url, traceID, now)), strconv.FormatInt(now.Unix(), 10)
}

// VerifyProxy проверяет подпись с таймстемпом, ограничивая разбег часов.
// Сначала дешевая проверка скью, потом криптография.
func VerifyProxy(key, method, url, traceID, tsHeader, hexSig string, maxSkew time.Duration) error {
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp: %w", err)
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}

	delta := time.Now().Unix() - ts
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Second > maxSkew {
		return ErrClockSkew
	}

	return Verify(key, ProxyPayload(method, url, traceID, time.Unix(ts, 0)), hexSig)
}
