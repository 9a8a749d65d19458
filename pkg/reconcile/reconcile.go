// Package reconcile implements the reconciliation loop (C8): a
// single-threaded periodic task that reconnects stale connector sessions,
// drives live-pull for active ones, and optionally self-heals the circuit
// breaker. It is the only component that mutates connector sessions outside
// explicit admin calls, and it holds the same per-meeting operation lock the
// lifecycle Manager uses, so admin and reconciliation never collide.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/meetingsvc/pkg/breaker"
	"github.com/codeready-toolchain/meetingsvc/pkg/connector"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

// Config mirrors config.Reconcile; kept distinct so this package has no
// import on pkg/config.
type Config struct {
	Interval                time.Duration
	StaleAfter              time.Duration
	ReconciliationLimit     int
	AutoReconnectAfterFails int
	LivePullSessionsLimit   int
	LivePullBatchLimit      int
	BreakerSelfHeal         bool
	BreakerSelfHealMinAge   time.Duration

	// FanOut bounds the number of sessions reconciled concurrently within a
	// single tick (spec.md §5 "reconciling N stale sessions concurrently").
	FanOut int
}

// Loop drives one connector kind's reconciliation scan.
type Loop struct {
	Sessions *store.ConnectorSessionStore
	Manager  *connector.Manager
	Breaker  *breaker.Manager
	Cfg      Config

	logger *slog.Logger
}

// NewLoop constructs a Loop. A zero Cfg.FanOut defaults to 4.
func NewLoop(sessions *store.ConnectorSessionStore, mgr *connector.Manager, br *breaker.Manager, cfg Config) *Loop {
	if cfg.FanOut <= 0 {
		cfg.FanOut = 4
	}
	return &Loop{
		Sessions: sessions,
		Manager:  mgr,
		Breaker:  br,
		Cfg:      cfg,
		logger:   slog.Default().With("component", "reconcile", "connector_kind", mgr.ConnectorKind),
	}
}

// Run blocks, ticking every Cfg.Interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("reconciliation tick failed", "error", err)
			}
		}
	}
}

// Tick runs one full scan: stale-session reconnect, then live-pull,
// then (if enabled) breaker self-heal.
func (l *Loop) Tick(ctx context.Context) error {
	if err := l.reconnectStale(ctx); err != nil {
		return err
	}
	if err := l.livePullActive(ctx); err != nil {
		return err
	}
	if l.Cfg.BreakerSelfHeal {
		healed := l.Breaker.SelfHeal(l.Cfg.BreakerSelfHealMinAge, nil)
		if len(healed) > 0 {
			l.logger.Info("self-healed breakers", "sources", healed)
		}
	}
	return nil
}

func (l *Loop) reconnectStale(ctx context.Context) error {
	stale, err := l.Sessions.ListStale(ctx, l.Cfg.StaleAfter, l.Cfg.ReconciliationLimit)
	if err != nil {
		return err
	}

	// AutoReconnectAfterFails gates whether sessions the Manager parked in
	// SessionDisconnected (after FailReconnectThreshold consecutive live-pull
	// failures) are walked back through Join on this tick — the only path
	// back to joining/connected, since nothing else reads that state.
	if l.Cfg.AutoReconnectAfterFails > 0 {
		disconnected, err := l.Sessions.ListDisconnected(ctx, l.Cfg.ReconciliationLimit)
		if err != nil {
			return err
		}
		stale = append(stale, disconnected...)
	}

	if len(stale) == 0 {
		return nil
	}
	l.logger.Info("reconnecting stale/disconnected sessions", "count", len(stale))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.Cfg.FanOut)
	for _, sess := range stale {
		sess := sess
		g.Go(func() error {
			if _, err := l.Manager.Reconnect(gctx, sess.MeetingID); err != nil && err != connector.ErrBusy {
				l.logger.Warn("stale reconnect failed", "meeting_id", sess.MeetingID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (l *Loop) livePullActive(ctx context.Context) error {
	active, err := l.Sessions.ListActive(ctx, l.Cfg.LivePullSessionsLimit)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.Cfg.FanOut)
	for _, sess := range active {
		sess := sess
		g.Go(func() error {
			n, err := l.Manager.LivePull(gctx, sess.MeetingID)
			if err != nil && err != connector.ErrBusy {
				l.logger.Warn("live_pull failed", "meeting_id", sess.MeetingID, "error", err)
				return nil
			}
			if n > 0 {
				l.logger.Debug("live_pull succeeded", "meeting_id", sess.MeetingID, "chunks", n)
			}
			return nil
		})
	}
	return g.Wait()
}
