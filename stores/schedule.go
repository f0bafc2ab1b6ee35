package stores

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"wuyrush.io/note/common/logging"
	"wuyrush.io/note/common/retry"
	ne "wuyrush.io/note/errors"
)

// DestructSchedule indexes notes by destruct deadline so the purger can find due notes without
// scanning the note collection. The index is advisory: a note missing from it still becomes
// invisible at its deadline, it is only physically deleted later.
type DestructSchedule interface {
	// Register records that noteID is due at at, replacing any earlier registration
	Register(ctx context.Context, noteID string, at time.Time) error
	// Deregister removes noteID from the schedule. Deregister must be idempotent
	Deregister(ctx context.Context, noteID string) error
	// Due returns up to max ids of notes whose deadline is not after now, earliest first. It returns
	// all due ids when max == 0
	Due(ctx context.Context, now time.Time, max int) ([]string, error)
	Close() error
}

func errNegativeMax(max int) error {
	return ne.NewBadInput(fmt.Sprintf("got negative max item count %d", max))
}

// MemSchedule is a DestructSchedule kept in process memory.
type MemSchedule struct {
	mu  sync.Mutex
	due map[string]time.Time
}

func NewMemSchedule() *MemSchedule {
	return &MemSchedule{due: map[string]time.Time{}}
}

func (s *MemSchedule) Register(ctx context.Context, noteID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.due[noteID] = at
	return nil
}

func (s *MemSchedule) Deregister(ctx context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.due, noteID)
	return nil
}

func (s *MemSchedule) Due(ctx context.Context, now time.Time, max int) ([]string, error) {
	if max < 0 {
		return nil, errNegativeMax(max)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []string{}
	for id, at := range s.due {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		ai, aj := s.due[ids[i]], s.due[ids[j]]
		if ai.Equal(aj) {
			return ids[i] < ids[j]
		}
		return ai.Before(aj)
	})
	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (s *MemSchedule) Close() error {
	return nil
}

// redis key of the sorted set whose score is note destruct deadline in unix milliseconds
const keyDestructSet = "noteDestructSet"

// RedisSchedule is a DestructSchedule driven by a Redis sorted set.
type RedisSchedule struct {
	DB *redis.Client
}

func (s *RedisSchedule) Register(ctx context.Context, noteID string, at time.Time) error {
	member := redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: noteID,
	}
	if _, err := s.DB.WithContext(ctx).ZAdd(keyDestructSet, member).Result(); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("noteID", noteID).Error("error calling Redis to index note deadline")
		return ne.NewServiceFailure("error registering note deadline").WithCause(err)
	}
	return nil
}

func (s *RedisSchedule) Deregister(ctx context.Context, noteID string) error {
	// redis ignores the error upon ZREM if the key is non-existent
	if _, err := s.DB.WithContext(ctx).ZRem(keyDestructSet, noteID).Result(); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("noteID", noteID).Error("error calling redis to remove note id from index")
		return ne.NewServiceFailure("error deregistering note deadline").WithCause(err)
	}
	return nil
}

func (s *RedisSchedule) Due(ctx context.Context, now time.Time, max int) ([]string, error) {
	clog := logging.FromContext(ctx)
	count := max
	if max < 0 {
		return nil, errNegativeMax(max)
	} else if max == 0 {
		count = -1
	}
	opt := redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10), Count: int64(count)}
	ids, err := s.DB.WithContext(ctx).ZRangeByScore(keyDestructSet, opt).Result()
	if err != nil {
		clog.WithError(err).Error("error calling redis to get ids of due notes")
		return nil, ne.NewServiceFailure("error loading due notes").WithCause(err)
	}
	clog.WithField("ids", ids).Debug("done loading due note ids")
	return ids, nil
}

func (s *RedisSchedule) Close() error {
	if err := s.DB.Close(); err != nil {
		return ne.NewServiceFailure("failed close Redis client").WithCause(err)
	}
	return nil
}

// NewRedisSchedule connects to Redis at addr and waits for it to come online.
func NewRedisSchedule(addr, passwd string, db int) (*RedisSchedule, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   passwd,
		DB:         db,
		MaxRetries: 3,
	})
	// verify the client is up correctly
	pingFn := func() error {
		_, err := client.Ping().Result()
		return err
	}
	if err := retry.Retry(pingFn,
		retry.WithTimeout(3*time.Second),
		retry.WithBaseDelay(100*time.Millisecond),
		retry.WithExp(2.0),
		retry.WithRetryOn(retry.IsDepOffline),
	); err != nil {
		client.Close()
		return nil, ne.NewServiceFailure("failed initializing Redis").WithCause(err)
	}
	return &RedisSchedule{DB: client}, nil
}
