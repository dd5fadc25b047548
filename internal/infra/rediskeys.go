package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "perfwatch"
)

// Ключи (состояние)
const (
	// RedisKeyPausedPairs — множество пар "worker:project" с приостановленной выдачей задач.
	RedisKeyPausedPairs = RedisNamespace + ":assignments:paused_set"
	// RedisKeyCycleLock — лок цикла оценки (SET NX с TTL), значение — ID цикла.
	RedisKeyCycleLock = RedisNamespace + ":lock:cycle"
	// RedisKeyWarmupLock — лок восстановления множества пауз из PostgreSQL.
	RedisKeyWarmupLock = RedisNamespace + ":lock:warmup"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPauseSignal — сигналы паузы/снятия паузы, формат "worker:project:on|off".
	RedisChanPauseSignal = RedisNamespace + ":assignments:pause-signal"
	// RedisChanRemovals — JSON о новых автоматических снятиях.
	RedisChanRemovals = RedisNamespace + ":removals"
	// RedisChanAppealDecisions — решения по апелляциям для внешнего восстановления доступа.
	RedisChanAppealDecisions = RedisNamespace + ":appeals:decisions"
)
