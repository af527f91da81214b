// Package runlock keeps a chronology run on one worker at a time.
//
// A claim is a row in run_locks whose expiry the owner pushes forward on
// every heartbeat. A worker that dies stops beating, and its run becomes
// claimable again once the expiry passes.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrHeld is returned when another worker owns a live claim on the run.
	ErrHeld = errors.New("run is claimed by another worker")
	// ErrLost is the cancel cause of a claim whose row expired or was taken.
	ErrLost = errors.New("run claim lost")
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config tunes claims. Zero fields fall back to sensible values.
type Config struct {
	// TTL is how long a claim survives without a heartbeat.
	TTL time.Duration
	// Heartbeat defaults to a third of TTL.
	Heartbeat time.Duration
	// Owner names the worker, usually its host name.
	Owner string
	// Retry makes Claim poll a held run at this interval, plus up to half
	// of it as jitter, until ctx ends. Zero fails fast with ErrHeld.
	Retry time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.Heartbeat <= 0 || c.Heartbeat >= c.TTL {
		c.Heartbeat = max(c.TTL/3, 500*time.Millisecond)
	}
	return c
}

// Locker hands out claims on runs.
type Locker struct {
	db  querier
	cfg Config
}

func New(db querier, cfg Config) *Locker {
	return &Locker{db: db, cfg: cfg.withDefaults()}
}

// Claim is a live hold on one run.
type Claim struct {
	RunID string
	Owner string

	locker  *Locker
	ctx     context.Context
	cancel  context.CancelCauseFunc
	stopped chan struct{}
	once    sync.Once
}

// Context ends when the claim is released or lost. context.Cause reports
// ErrLost in the second case.
func (c *Claim) Context() context.Context { return c.ctx }

// Hold runs fn while owning runID and releases the claim afterwards. fn's
// context is canceled if the claim is lost, and Hold then reports ErrLost.
func (l *Locker) Hold(ctx context.Context, runID string, fn func(ctx context.Context) error) error {
	claim, err := l.Claim(ctx, runID)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = claim.Release(releaseCtx)
	}()

	err = fn(claim.Context())
	if errors.Is(context.Cause(claim.Context()), ErrLost) {
		return errors.Join(ErrLost, err)
	}
	return err
}

// Claim takes runID for this worker and starts its heartbeat.
func (l *Locker) Claim(ctx context.Context, runID string) (*Claim, error) {
	if runID == "" {
		return nil, errors.New("claim run: empty run id")
	}
	suffix, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("claim run %s: %w", runID, err)
	}
	owner := suffix
	if l.cfg.Owner != "" {
		owner = l.cfg.Owner + ":" + suffix
	}

	for {
		taken, err := l.take(ctx, runID, owner)
		if err != nil {
			return nil, fmt.Errorf("claim run %s: %w", runID, err)
		}
		if taken {
			break
		}
		if l.cfg.Retry <= 0 {
			return nil, ErrHeld
		}
		if err := pause(ctx, l.cfg.Retry+time.Duration(rand.Int64N(int64(l.cfg.Retry)/2+1))); err != nil {
			return nil, err
		}
	}

	claimCtx, cancel := context.WithCancelCause(ctx)
	c := &Claim{
		RunID:   runID,
		Owner:   owner,
		locker:  l,
		ctx:     claimCtx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go c.beat(time.Now().Add(l.cfg.TTL))
	return c, nil
}

// Release stops the heartbeat and deletes the row if this claim still owns it.
func (c *Claim) Release(ctx context.Context) error {
	c.once.Do(func() {
		close(c.stopped)
		c.cancel(context.Canceled)
	})
	if _, err := c.locker.db.Exec(ctx, releaseSQL, c.RunID, c.Owner); err != nil {
		return fmt.Errorf("release run %s: %w", c.RunID, err)
	}
	return nil
}

func (l *Locker) take(ctx context.Context, runID, owner string) (bool, error) {
	var got string
	err := l.db.QueryRow(ctx, claimSQL, runID, owner, l.cfg.TTL.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// beat extends the claim until it is released. A failed extension is retried
// on the next tick as long as the last known expiry has not passed; a missing
// row means another worker took the run.
func (c *Claim) beat(expires time.Time) {
	ticker := time.NewTicker(c.locker.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopped:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		err := c.extend()
		switch {
		case err == nil:
			expires = time.Now().Add(c.locker.cfg.TTL)
		case errors.Is(err, pgx.ErrNoRows):
			c.cancel(ErrLost)
			return
		case !time.Now().Add(c.locker.cfg.Heartbeat).Before(expires):
			c.cancel(fmt.Errorf("%w: %v", ErrLost, err))
			return
		}
	}
}

func (c *Claim) extend() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.locker.cfg.Heartbeat)
	defer cancel()
	var got string
	return c.locker.db.QueryRow(ctx, extendSQL, c.RunID, c.Owner, c.locker.cfg.TTL.Seconds()).Scan(&got)
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// An expired row, or one this owner already holds, is taken over in place.
const claimSQL = `
INSERT INTO run_locks (run_id, owner, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3))
ON CONFLICT (run_id) DO UPDATE
SET owner      = EXCLUDED.owner,
    expires_at = EXCLUDED.expires_at
WHERE run_locks.expires_at < now()
   OR run_locks.owner = EXCLUDED.owner
RETURNING run_id;
`

const extendSQL = `
UPDATE run_locks
SET expires_at = now() + make_interval(secs => $3)
WHERE run_id = $1 AND owner = $2
RETURNING run_id;
`

const releaseSQL = `
DELETE FROM run_locks
WHERE run_id = $1 AND owner = $2;
`
