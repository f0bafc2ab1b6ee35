// Package config reads the settings of every note binary from the environment, optionally seeded
// from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
)

type Config struct {
	Verbose bool

	Host          string `validate:"omitempty,hostname|ip"`
	Port          int    `validate:"min=1,max=65535"`
	ReaderPort    int    `validate:"min=1,max=65535"`
	PublicBaseURL string `validate:"required,url"`

	StoreBackend    string `validate:"oneof=memory sqlite couchdb"`
	SQLitePath      string `validate:"required_if=StoreBackend sqlite"`
	CouchDBURL      string `validate:"required_if=StoreBackend couchdb"`
	CouchDBPrefix   string
	ScheduleBackend string `validate:"oneof=memory redis"`
	RedisHost       string `validate:"required_if=ScheduleBackend redis"`
	RedisPort       int    `validate:"min=1,max=65535"`
	RedisPasswd     string
	RedisDB         int `validate:"min=0"`

	JWTSecret  string
	SessionKey string `validate:"omitempty,min=32"`

	ReqBodySizeMaxByte     int64 `validate:"gt=0"`
	NoteTitleSizeMaxByte   int   `validate:"gt=0"`
	NoteContentSizeMaxByte int   `validate:"gt=0"`

	PurgerSweepFreq        time.Duration `validate:"gt=0"`
	PurgerMaxSweepLoad     int           `validate:"min=0"`
	PurgerExecPoolSize     int           `validate:"gt=0"`
	PurgerLocalCacheSize   int           `validate:"gt=0"`
	PurgerWIPCacheEntryExp time.Duration `validate:"gt=0"`
}

// RedisAddr returns the host:port of the Redis server.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) ReaderAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.ReaderPort)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(cst.EnvAppPort, 8080)
	v.SetDefault(cst.EnvReaderPort, 8081)
	v.SetDefault(cst.EnvPublicBaseURL, "http://localhost:8081")
	v.SetDefault(cst.EnvStoreBackend, cst.BackendMemory)
	v.SetDefault(cst.EnvSQLitePath, "note.db")
	v.SetDefault(cst.EnvCouchDBPrefix, "note_")
	v.SetDefault(cst.EnvScheduleBackend, cst.BackendMemory)
	v.SetDefault(cst.EnvRedisHost, "localhost")
	v.SetDefault(cst.EnvRedisPort, 6379)
	v.SetDefault(cst.EnvRedisDB, 0)
	v.SetDefault(cst.EnvReqBodySizeMaxByte, 1<<20)
	v.SetDefault(cst.EnvNoteTitleSizeMaxByte, 256)
	v.SetDefault(cst.EnvNoteContentSizeMaxByte, 256<<10)
	v.SetDefault(cst.EnvPurgerSweepFreq, time.Minute)
	v.SetDefault(cst.EnvPurgerMaxSweepLoad, 256)
	v.SetDefault(cst.EnvPurgerExecutorPoolSize, 8)
	v.SetDefault(cst.EnvPurgerLocalCacheSize, 4096)
	v.SetDefault(cst.EnvPurgerWIPCacheEntryExp, 5*time.Minute)
}

// LoadDotEnv seeds the environment from the given .env files, or ./.env if none is given. Variables
// already set are left alone, and missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return ne.NewBadInput("error loading " + f).WithCause(err)
		}
	}
	return nil
}

// Load reads the configuration from v, which is expected to look up the env var names in constants,
// and validates it.
func Load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	setDefaults(v)
	c := &Config{
		Verbose:                v.GetBool(cst.EnvVerbose),
		Host:                   v.GetString(cst.EnvAppHost),
		Port:                   v.GetInt(cst.EnvAppPort),
		ReaderPort:             v.GetInt(cst.EnvReaderPort),
		PublicBaseURL:          v.GetString(cst.EnvPublicBaseURL),
		StoreBackend:           v.GetString(cst.EnvStoreBackend),
		SQLitePath:             v.GetString(cst.EnvSQLitePath),
		CouchDBURL:             v.GetString(cst.EnvCouchDBURL),
		CouchDBPrefix:          v.GetString(cst.EnvCouchDBPrefix),
		ScheduleBackend:        v.GetString(cst.EnvScheduleBackend),
		RedisHost:              v.GetString(cst.EnvRedisHost),
		RedisPort:              v.GetInt(cst.EnvRedisPort),
		RedisPasswd:            v.GetString(cst.EnvRedisPasswd),
		RedisDB:                v.GetInt(cst.EnvRedisDB),
		JWTSecret:              v.GetString(cst.EnvJWTSecret),
		SessionKey:             v.GetString(cst.EnvSessionKey),
		ReqBodySizeMaxByte:     v.GetInt64(cst.EnvReqBodySizeMaxByte),
		NoteTitleSizeMaxByte:   v.GetInt(cst.EnvNoteTitleSizeMaxByte),
		NoteContentSizeMaxByte: v.GetInt(cst.EnvNoteContentSizeMaxByte),
		PurgerSweepFreq:        v.GetDuration(cst.EnvPurgerSweepFreq),
		PurgerMaxSweepLoad:     v.GetInt(cst.EnvPurgerMaxSweepLoad),
		PurgerExecPoolSize:     v.GetInt(cst.EnvPurgerExecutorPoolSize),
		PurgerLocalCacheSize:   v.GetInt(cst.EnvPurgerLocalCacheSize),
		PurgerWIPCacheEntryExp: v.GetDuration(cst.EnvPurgerWIPCacheEntryExp),
	}
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return nil, ne.NewBadInput(fmt.Sprintf("invalid configuration %s: failed %s check", f.Field(), f.Tag())).WithCause(err)
		}
		return nil, ne.NewBadInput("invalid configuration").WithCause(err)
	}
	return c, nil
}
