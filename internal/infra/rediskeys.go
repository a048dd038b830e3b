package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных губернатора в Redis
	RedisNamespace = "ratewarden"
)

// Ключи для учета окна
const (
	// RedisKeyBucketIndex: HASH digest -> "identity|endpoint", нужен sweeper-у, сбросу и статистике
	RedisKeyBucketIndex = RedisNamespace + ":buckets"
)

// RedisBucketKey: ZSET записей одного бакета (score = ts ms)
func RedisBucketKey(digest string) string {
	return fmt.Sprintf("%s:bucket:%s", RedisNamespace, digest)
}

// RedisIdentityKey: SET digest-ов бакетов одной личности
func RedisIdentityKey(digest string) string {
	return fmt.Sprintf("%s:identity:%s", RedisNamespace, digest)
}

// RedisLockKey Генератор ключей для распределенных блокировок
func RedisLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:%s", RedisNamespace, resource)
}
