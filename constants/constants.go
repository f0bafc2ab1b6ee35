// Package constants vends constants used in various components of note service, e.g., env var names
package constants

const (
	// -------------- env vars --------------
	// common
	EnvVerbose = "NOTE_VERBOSE"
	// stores
	EnvStoreBackend    = "NOTE_STORE_BACKEND"
	EnvSQLitePath      = "NOTE_SQLITE_PATH"
	EnvCouchDBURL      = "COUCHDB_URL"
	EnvCouchDBPrefix   = "COUCHDB_DB_PREFIX"
	EnvScheduleBackend = "NOTE_SCHEDULE_BACKEND"
	EnvRedisHost       = "REDIS_HOST"
	EnvRedisPort       = "REDIS_PORT"
	EnvRedisPasswd     = "REDIS_PASSWD"
	EnvRedisDB         = "REDIS_DB"
	// server
	EnvAppHost                = "NOTE_HOST"
	EnvAppPort                = "NOTE_PORT"
	EnvReaderPort             = "NOTE_READER_PORT"
	EnvPublicBaseURL          = "NOTE_PUBLIC_BASE_URL"
	EnvJWTSecret              = "NOTE_JWT_SECRET"
	EnvSessionKey             = "NOTE_SESSION_KEY"
	EnvReqBodySizeMaxByte     = "NOTE_REQ_BODY_SIZE_MAX_BYTE"
	EnvNoteTitleSizeMaxByte   = "NOTE_TITLE_SIZE_MAX_BYTE"
	EnvNoteContentSizeMaxByte = "NOTE_CONTENT_SIZE_MAX_BYTE"
	// purger
	EnvPurgerLocalCacheSize   = "NOTE_PURGER_LOCAL_CACHE_SIZE"
	EnvPurgerSweepFreq        = "NOTE_PURGER_SWEEP_FREQ"
	EnvPurgerMaxSweepLoad     = "NOTE_PURGER_MAX_SWEEP_LOAD"
	EnvPurgerExecutorPoolSize = "NOTE_PURGER_EXEC_POOL_SIZE"
	EnvPurgerWIPCacheEntryExp = "NOTE_PURGER_WIP_CACHE_ENTRY_EXPIRY"

	// -------------- store backends --------------
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendCouchDB = "couchdb"
	BackendRedis   = "redis"

	// -------------- collections --------------
	CollNotes           = "notes"
	CollShareTokens     = "shareTokens"
	CollCategoryForests = "categoryForests"
	CollTags            = "tags"

	// -------------- log fields --------------
	LogFieldFuncName  = "funcName"
	LogFieldRequestID = "requestID"
	LogFieldNoteID    = "noteID"
	LogFieldPrincipal = "principal"
)
