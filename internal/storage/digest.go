// Package storage содержит общее для реализаций хранилища учета.
package storage

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/xela07ax/ratewarden/internal/domain"
	"golang.org/x/crypto/blake2b"
)

// BucketDigest: короткий стабильный ключ бакета. Личность и путь приходят от клиента,
// их длина не ограничена, а ключ Redis / id блокировки должны быть фиксированной длины.
func BucketDigest(b domain.Bucket) string {
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// IdentityDigest: то же для личности, ключ множества бакетов одной личности.
func IdentityDigest(identity string) string {
	sum := blake2b.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:16])
}

// LockID возвращает 64-битный ключ для pg_advisory_xact_lock.
func LockID(b domain.Bucket) int64 {
	sum := blake2b.Sum256([]byte(b.String()))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// ParseBucket обратен Bucket.String. Ключ эндпоинта: нормализованный путь без '|',
// поэтому режем по последнему разделителю.
func ParseBucket(s string) (domain.Bucket, bool) {
	i := strings.LastIndex(s, "|")
	if i <= 0 || i == len(s)-1 {
		return domain.Bucket{}, false
	}
	return domain.Bucket{Identity: s[:i], EndpointKey: s[i+1:]}, true
}
