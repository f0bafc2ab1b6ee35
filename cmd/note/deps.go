package main

import (
	"context"
	"time"

	"wuyrush.io/note/catalog"
	"wuyrush.io/note/common/clock"
	"wuyrush.io/note/common/logging"
	"wuyrush.io/note/common/retry"
	"wuyrush.io/note/config"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	"wuyrush.io/note/lifecycle"
	"wuyrush.io/note/metrics"
	"wuyrush.io/note/notes"
	"wuyrush.io/note/share"
	st "wuyrush.io/note/stores"
)

// deps holds the clients shared by the components of one process. They are constructed here and
// passed down; nothing below cmd reaches for globals.
type deps struct {
	db       st.DocStore
	schedule st.DestructSchedule
	clock    clock.Clock
	metrics  *metrics.Metrics
}

// NOTE docker compose's depends_on feature only guarantees the startup order of containers,
// not the readiness of the services in them, hence the retries
func setupDeps(ctx context.Context, c *config.Config, service string) (*deps, error) {
	clog := logging.WithFuncName()
	db, err := setupDocStore(ctx, c)
	if err != nil {
		clog.WithError(err).Error("error setting up document store")
		return nil, err
	}
	schedule, err := setupSchedule(c)
	if err != nil {
		clog.WithError(err).Error("error setting up destruct schedule")
		db.Close()
		return nil, err
	}
	return &deps{db: db, schedule: schedule, clock: clock.Real{}, metrics: metrics.NewMetrics(service)}, nil
}

func setupDocStore(ctx context.Context, c *config.Config) (st.DocStore, error) {
	switch c.StoreBackend {
	case cst.BackendSQLite:
		return st.NewSQLiteStore(ctx, c.SQLitePath)
	case cst.BackendCouchDB:
		var s *st.CouchStore
		err := retry.Retry(
			func() error {
				var err error
				s, err = st.NewCouchStore(ctx, c.CouchDBURL, c.CouchDBPrefix)
				return err
			},
			retry.WithTimeout(10*time.Second),
			retry.WithBaseDelay(100*time.Millisecond),
			retry.WithExp(2.0),
			retry.WithRetryOn(func(err error) bool { return ne.Is(err, ne.ErrCodeServiceFailure) }),
		)
		if err != nil {
			return nil, err
		}
		return s, nil
	case cst.BackendMemory:
		logging.WithFuncName().Warn("using the in-memory document store; notes are lost on exit")
		return st.NewMemStore(), nil
	}
	return nil, ne.NewBadInput("unknown store backend " + c.StoreBackend)
}

func setupSchedule(c *config.Config) (st.DestructSchedule, error) {
	switch c.ScheduleBackend {
	case cst.BackendRedis:
		return st.NewRedisSchedule(c.RedisAddr(), c.RedisPasswd, c.RedisDB)
	case cst.BackendMemory:
		return st.NewMemSchedule(), nil
	}
	return nil, ne.NewBadInput("unknown schedule backend " + c.ScheduleBackend)
}

func (d *deps) Close() {
	clog := logging.WithFuncName()
	if err := d.schedule.Close(); err != nil {
		clog.WithError(err).Warn("error closing destruct schedule")
	}
	if err := d.db.Close(); err != nil {
		clog.WithError(err).Warn("error closing document store")
	}
}

func (d *deps) noteStore() *st.NoteStore {
	return &st.NoteStore{DB: d.db}
}

func (d *deps) lifecycleManager() *lifecycle.Manager {
	return &lifecycle.Manager{Notes: d.noteStore(), Clock: d.clock, Schedule: d.schedule, Metrics: d.metrics}
}

func (d *deps) shareBroker(baseURL string) *share.Broker {
	return &share.Broker{
		Notes:   d.noteStore(),
		Tokens:  &st.ShareTokenStore{DB: d.db},
		Clock:   d.clock,
		BaseURL: baseURL,
		Metrics: d.metrics,
	}
}

func (d *deps) catalogService() *catalog.Service {
	return &catalog.Service{Categories: &st.CategoryStore{DB: d.db}, Tags: &st.TagStore{DB: d.db}}
}

func (d *deps) noteService(baseURL string) *notes.Service {
	return &notes.Service{
		Notes:     d.noteStore(),
		Lifecycle: d.lifecycleManager(),
		Broker:    d.shareBroker(baseURL),
		Catalog:   d.catalogService(),
		Clock:     d.clock,
	}
}
