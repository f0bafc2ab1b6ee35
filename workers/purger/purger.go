// Package purger vends a long-running worker that physically deletes notes whose destruct deadline
// has elapsed. Expired notes are already invisible to every read path; the purger only reclaims
// their storage.
package purger

import (
	"context"
	"sync"
	"time"

	"github.com/bluele/gcache"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/common/logging"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	"wuyrush.io/note/lifecycle"
)

type Options struct {
	SweepFreq time.Duration
	// MaxLoad caps the number of notes loaded per sweep; 0 loads all due notes.
	MaxLoad        int
	ExecPoolSize   int
	LocalCacheSize int
	// WIPExpiry bounds how long a note stays marked in flight, so that a purge that died is retried.
	WIPExpiry time.Duration
	// FullScanEvery makes every n-th sweep scan the note store for expired notes as well, picking up
	// notes whose deadline never made it into the schedule. 0 disables the scan unless there is no
	// schedule at all.
	FullScanEvery int
}

type Purger struct {
	Lifecycle *lifecycle.Manager
	opts      Options
	wipCache  gcache.Cache
	quotas    chan struct{}
	wg        sync.WaitGroup
	sweeps    int
}

func New(lc *lifecycle.Manager, opts Options) *Purger {
	if opts.ExecPoolSize <= 0 {
		opts.ExecPoolSize = 1
	}
	if opts.LocalCacheSize <= 0 {
		opts.LocalCacheSize = 1024
	}
	if opts.WIPExpiry <= 0 {
		opts.WIPExpiry = time.Minute
	}
	return &Purger{
		Lifecycle: lc,
		opts:      opts,
		wipCache:  gcache.New(opts.LocalCacheSize).LRU().Build(),
		quotas:    make(chan struct{}, opts.ExecPoolSize),
	}
}

// Run sweeps every SweepFreq until ctx is canceled, then waits for in-flight purges.
func (p *Purger) Run(ctx context.Context) error {
	clog := logging.WithFuncName()
	if p.opts.SweepFreq <= 0 {
		return ne.NewBadInput("purger sweep frequency must be positive")
	}
	tkr := time.NewTicker(p.opts.SweepFreq)
	defer tkr.Stop()
	clog.WithField("sweepFrequency", p.opts.SweepFreq).Info("purger is starting up")
LoopRun:
	for {
		select {
		case <-tkr.C:
			if _, err := p.Sweep(ctx); err != nil {
				// the schedule or store may come back; try again on the next tick
				clog.WithError(err).Error("error sweeping expired notes")
			}
		case <-ctx.Done():
			clog.Info("got termination signal. Stopping")
			break LoopRun
		}
	}
	p.Wait()
	return nil
}

// Wait blocks until every purge dispatched so far has finished.
func (p *Purger) Wait() {
	p.wg.Wait()
}

// Sweep loads due notes and dispatches them to the executor pool. It returns the number of notes
// dispatched without waiting for them.
func (p *Purger) Sweep(ctx context.Context) (int, error) {
	clog := logging.WithFuncName()
	ids, err := p.Load(ctx, p.opts.MaxLoad)
	if err != nil {
		return 0, err
	}
	clog.WithField("count", len(ids)).Debug("due notes loaded")
	for _, id := range ids {
		p.wg.Add(1)
		go func(id string) {
			defer p.wg.Done()
			select {
			case p.quotas <- struct{}{}:
			case <-ctx.Done():
				p.wipCache.Remove(id)
				return
			}
			defer func() { <-p.quotas }()
			if err := p.Purge(ctx, id); err != nil {
				clog.WithError(err).WithField(cst.LogFieldNoteID, id).Error("error purging note")
			}
		}(id)
	}
	return len(ids), nil
}

// Load returns up to max ids of notes due for purging that are not already in flight, and marks
// them in flight. It loads all due notes if max == 0.
func (p *Purger) Load(ctx context.Context, max int) ([]string, error) {
	clog := logging.WithFuncName()
	now := p.Lifecycle.Clock.Now()
	p.sweeps++
	var ids []string
	if sch := p.Lifecycle.Schedule; sch != nil {
		due, err := sch.Due(ctx, now, max)
		if err != nil {
			clog.WithError(err).Error("error loading due notes from schedule")
			return nil, err
		}
		ids = due
	}
	if p.Lifecycle.Schedule == nil || (p.opts.FullScanEvery > 0 && p.sweeps%p.opts.FullScanEvery == 0) {
		expired, err := p.Lifecycle.Notes.Expired(ctx, now)
		if err != nil {
			clog.WithError(err).Error("error scanning expired notes")
			return nil, err
		}
		for _, n := range expired {
			ids = append(ids, n.ID)
		}
	}
	// filter out notes which are already WIP
	seen := make(map[string]struct{}, len(ids))
	fresh := []string{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := p.wipCache.Get(id); err == nil {
			continue
		} else if err != gcache.KeyNotFoundError {
			return nil, ne.NewServiceFailure("error getting note id from local cache").WithCause(err)
		}
		// best effort: an id we failed to mark may be dispatched again by the next sweep, which the
		// purge tolerates
		if err := p.wipCache.SetWithExpire(id, struct{}{}, p.opts.WIPExpiry); err != nil {
			clog.WithError(err).WithField(cst.LogFieldNoteID, id).Warn("error keying note id in local cache")
		}
		fresh = append(fresh, id)
		if max > 0 && len(fresh) == max {
			break
		}
	}
	return fresh, nil
}

// Purge deletes note id if it is expired. Schedule entries of notes that are gone, or whose deadline
// has moved, are brought up to date.
func (p *Purger) Purge(ctx context.Context, id string) error {
	defer p.wipCache.Remove(id)
	clog := logging.WithFuncName().WithField(cst.LogFieldNoteID, id)
	lc := p.Lifecycle
	n, err := lc.Notes.Get(ctx, id)
	if ne.Is(err, ne.ErrCodeNotFound) {
		if lc.Schedule != nil {
			if err := lc.Schedule.Deregister(ctx, id); err != nil {
				return err
			}
		}
		clog.Debug("dropped schedule entry of missing note")
		return nil
	} else if err != nil {
		return err
	}
	now := lc.Clock.Now()
	purged, err := lc.PurgeIfExpired(ctx, n, now)
	if err != nil {
		return err
	}
	if !purged {
		lc.SyncSchedule(ctx, n)
		clog.WithFields(log.Fields{"destructAt": n.DestructAt}).Debug("note not due yet; rescheduled")
		return nil
	}
	clog.Debug("note purged")
	return nil
}
