// Package updater drives the oracle engine from configured feed sources on
// a fixed interval.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"stakeoracle/native/common"
	"stakeoracle/native/oracle"
	"stakeoracle/observability"
	"stakeoracle/services/oracled/feed"
	"stakeoracle/services/oracled/storage"
)

const tripActor = "volatility-gate"

// defaultFetchLimit caps upstream fetches per second so a short polling
// interval cannot hammer the feed providers.
const defaultFetchLimit = 4

// Manager orchestrates periodic feed polling and engine updates.
type Manager struct {
	logger   *log.Logger
	engine   *oracle.Engine
	audit    *storage.Storage
	metrics  *observability.OracleMetrics
	packed   feed.Source
	scalar   map[oracle.AssetKind]feed.Source
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics installs the prometheus recorder.
func WithMetrics(metrics *observability.OracleMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithFetchLimit caps upstream fetches at n per second. Zero or negative n
// removes the cap.
func WithFetchLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limiter = rate.NewLimiter(rate.Limit(n), n)
		} else {
			m.limiter = nil
		}
	}
}

// New constructs a manager instance. At least one source, packed or scalar,
// must be supplied.
func New(engine *oracle.Engine, audit *storage.Storage, packed feed.Source, scalar map[oracle.AssetKind]feed.Source, interval time.Duration, opts ...Option) (*Manager, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if packed == nil && len(scalar) == 0 {
		return nil, fmt.Errorf("at least one feed source required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	sources := make(map[oracle.AssetKind]feed.Source, len(scalar))
	for asset, source := range scalar {
		if source != nil {
			sources[asset] = source
		}
	}
	mgr := &Manager{
		logger:   log.Default(),
		engine:   engine,
		audit:    audit,
		packed:   packed,
		scalar:   sources,
		interval: interval,
		limiter:  rate.NewLimiter(defaultFetchLimit, defaultFetchLimit),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// haltView adapts the engine's control flag to the common guard.
type haltView struct {
	engine *oracle.Engine
}

func (v haltView) Halted() bool {
	stopped, err := v.engine.EmergencyStopped()
	return err == nil && stopped
}

// Run blocks, polling the feeds until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Printf("oracled updater: tick: %v", err)
			}
		}
	}
}

// Tick performs one polling pass: the packed feed first, then each scalar
// feed. A halted engine skips the pass entirely; reads stay served while
// updates wait for the authority to clear the stop.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	if err := common.Guard(haltView{engine: m.engine}); err != nil {
		m.metrics.SetEmergencyStop(true)
		m.logger.Printf("oracled updater: %v; skipping pass", err)
		return nil
	}
	m.metrics.SetEmergencyStop(false)

	var errs []error
	if m.packed != nil {
		if err := m.updatePacked(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, asset := range oracle.AssetKinds() {
		source, ok := m.scalar[asset]
		if !ok {
			continue
		}
		if err := m.updateScalar(ctx, asset, source); err != nil {
			errs = append(errs, err)
			// A trip halts the rest of the pass; remaining updates
			// would fail the gate anyway.
			if errors.Is(err, oracle.ErrPriceChangeExceedsLimit) || errors.Is(err, oracle.ErrStopped) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// fetch resolves one snapshot through the rate limiter.
func (m *Manager) fetch(ctx context.Context, source feed.Source) (oracle.FeedSnapshot, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return oracle.FeedSnapshot{}, err
		}
	}
	return source.Fetch(ctx)
}

func (m *Manager) updatePacked(ctx context.Context) error {
	snap, err := m.fetch(ctx, m.packed)
	if err != nil {
		m.metrics.ObserveRejection("packed", "fetch")
		return fmt.Errorf("fetch %s: %w", m.packed.Name(), err)
	}
	now := m.now().Unix()
	m.metrics.ObserveFeedAge("packed", float64(now-snap.Timestamp))
	start := time.Now()
	updateErr := m.engine.UpdateAllFromPacked(snap, now)
	m.observe("packed", "update_all", snap.Timestamp, updateErr, time.Since(start))
	if updateErr != nil {
		return fmt.Errorf("packed update: %w", updateErr)
	}
	return nil
}

func (m *Manager) updateScalar(ctx context.Context, asset oracle.AssetKind, source feed.Source) error {
	snap, err := m.fetch(ctx, source)
	if err != nil {
		m.metrics.ObserveRejection(asset.String(), "fetch")
		return fmt.Errorf("fetch %s: %w", source.Name(), err)
	}
	now := m.now().Unix()
	m.metrics.ObserveFeedAge(asset.String(), float64(now-snap.Timestamp))
	start := time.Now()
	updateErr := m.engine.UpdatePrice(asset, snap, now)
	m.observe(asset.String(), "update_price", snap.Timestamp, updateErr, time.Since(start))
	if updateErr != nil {
		return fmt.Errorf("update %s: %w", asset, updateErr)
	}
	return nil
}

// observe fans an update outcome into metrics and the audit journal. A
// volatility breach additionally records the control transition the engine
// just performed.
func (m *Manager) observe(asset, op string, feedTime int64, updateErr error, took time.Duration) {
	m.metrics.ObserveUpdate(asset, op, updateErr, took)
	outcome := "ok"
	detail := ""
	if updateErr != nil {
		outcome = "rejected"
		detail = updateErr.Error()
		m.metrics.ObserveRejection(asset, rejectionReason(updateErr))
	}
	if m.audit != nil {
		entry := storage.AuditEntry{
			Asset:    asset,
			Op:       op,
			Outcome:  outcome,
			Detail:   detail,
			FeedTime: feedTime,
		}
		if err := m.audit.RecordUpdate(context.Background(), entry); err != nil {
			m.logger.Printf("oracled updater: record audit: %v", err)
		}
	}
	if errors.Is(updateErr, oracle.ErrPriceChangeExceedsLimit) {
		m.metrics.SetEmergencyStop(true)
		if m.audit != nil {
			if err := m.audit.RecordControlEvent(context.Background(), true, tripActor, detail); err != nil {
				m.logger.Printf("oracled updater: record control event: %v", err)
			}
		}
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, oracle.ErrStopped):
		return "stopped"
	case errors.Is(err, oracle.ErrStaleData):
		return "stale"
	case errors.Is(err, oracle.ErrExceedsConfidenceInterval):
		return "confidence"
	case errors.Is(err, oracle.ErrInvalidFeedAccount):
		return "feed_account"
	case errors.Is(err, oracle.ErrPriceChangeExceedsLimit):
		return "volatility"
	case errors.Is(err, oracle.ErrNonFinite):
		return "non_finite"
	case errors.Is(err, oracle.ErrInvalidValue):
		return "invalid_value"
	default:
		return "other"
	}
}
