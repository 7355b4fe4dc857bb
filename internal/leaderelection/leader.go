// Package leaderelection serializes the scheduler and reconciler across
// replicas with a Postgres advisory lock.
//
// One session-scoped advisory lock decides the leader. The lock lives as
// long as its dedicated connection; Postgres releases it server-side when
// the connection dies. The heartbeat ping only detects local connection
// death so the leader can stand down quickly, it does not renew anything.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

type Config struct {
	// LockKey is the advisory lock identifier shared by all replicas.
	LockKey int64
	// RetryInterval is how often a follower re-attempts acquisition.
	RetryInterval time.Duration
	// HeartbeatInterval is how often the leader pings its connection.
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		LockKey:           7321001,
		RetryInterval:     15 * time.Second,
		HeartbeatInterval: 5 * time.Second,
	}
}

// MetricsSink receives leadership transitions. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown" or "conn_lost"
}

// Elector runs the election loop and invokes the callbacks on leadership
// changes.
//
// onElected runs in a new goroutine when the lock is acquired; its
// context is cancelled when leadership ends. It should start leader
// duties and return quickly. onDemoted runs synchronously on loss, must
// stop leader duties before returning, and must be idempotent.
type Elector struct {
	db        *sql.DB
	cfg       Config
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink
}

func New(db *sql.DB, cfg Config, onElected func(ctx context.Context), onDemoted func()) *Elector {
	return &Elector{
		db:        db,
		cfg:       cfg,
		onElected: onElected,
		onDemoted: onDemoted,
	}
}

// WithMetrics attaches a metrics sink. Must be called before Run.
func (e *Elector) WithMetrics(m MetricsSink) *Elector {
	e.metrics = m
	return e
}

// Run blocks until ctx is cancelled, alternating between follower waits
// and leadership terms.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: starting election loop (lock_key=%d, retry=%s, heartbeat=%s)",
		e.cfg.LockKey, e.cfg.RetryInterval, e.cfg.HeartbeatInterval)

	for {
		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		if reason := e.term(ctx); reason != "" && ctx.Err() == nil {
			log.Printf("leader: lost leadership (reason=%s), retrying in %s", reason, e.cfg.RetryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.cfg.RetryInterval):
		}
	}
}

// term tries to acquire the lock and, on success, holds it for one
// leadership term. Returns why the term ended, or "" when the lock was
// never acquired.
func (e *Elector) term(ctx context.Context) string {
	// Advisory locks are session-scoped, so the lock needs a dedicated
	// connection that outlives the query.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("leader: failed to acquire dedicated connection: %v", err)
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.cfg.LockKey).Scan(&acquired); err != nil {
		log.Printf("leader: advisory lock query failed: %v", err)
		return ""
	}
	if !acquired {
		return ""
	}

	log.Printf("leader: acquired advisory lock %d", e.cfg.LockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancel := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.hold(ctx, conn)

	cancel()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	log.Printf("leader: released advisory lock %d", e.cfg.LockKey)
	return reason
}

func (e *Elector) hold(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: dedicated connection ping failed: %v", err)
				return "conn_lost"
			}
		}
	}
}
