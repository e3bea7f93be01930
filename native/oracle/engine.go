package oracle

import (
	"errors"
	"fmt"
	"sync"
)

// Engine is the oracle facade. Every public operation runs the same one-way
// pipeline: emergency gate, snapshot validation, decode, slot resolution,
// ledger mutation, header stamp. The engine serialises operations so the
// header and ledger see one consistent snapshot per call.
type Engine struct {
	mu       sync.Mutex
	store    Storage
	ledger   *Ledger
	registry Registry
	params   Params
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRegistry overrides the registry strategy selected by the parameters.
func WithRegistry(registry Registry) EngineOption {
	return func(e *Engine) {
		if registry != nil {
			e.registry = registry
		}
	}
}

// NewEngine constructs an engine over the provided storage backend.
func NewEngine(store Storage, params Params, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("oracle: storage required")
	}
	engine := &Engine{
		store:    store,
		ledger:   NewLedger(store),
		registry: params.NewRegistry(),
		params:   params,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine, nil
}

// Params returns the runtime bounds the engine enforces.
func (e *Engine) Params() Params {
	return e.params
}

func (e *Engine) slotCapacity() int {
	if e.params.RegistryMode == RegistryModeDynamic {
		return e.params.MaxAssets
	}
	return AssetCount
}

// Initialize creates the control header and zeroes every ledger slot. The
// authority is fixed here and the feed authority is the identity snapshots
// must declare as owner. Re-initialisation supersedes any previous state.
func (e *Engine) Initialize(authority, feedAuthority string) error {
	if e == nil {
		return fmt.Errorf("oracle: engine not configured")
	}
	if authority == "" {
		return fmt.Errorf("oracle: authority required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ledger.Reset(e.slotCapacity()); err != nil {
		return err
	}
	header := Header{
		Authority:     authority,
		FeedAuthority: feedAuthority,
		AssetCount:    uint8(e.registry.Slots()),
	}
	return e.putHeader(header)
}

func (e *Engine) loadHeader() (Header, error) {
	var stored storedHeader
	ok, err := e.store.KVGet(headerKey, &stored)
	if err != nil {
		return Header{}, fmt.Errorf("oracle: load header: %w", err)
	}
	if !ok {
		return Header{}, ErrNotInitialized
	}
	return stored.header(), nil
}

func (e *Engine) putHeader(header Header) error {
	if err := e.store.KVPut(headerKey, header.stored()); err != nil {
		return fmt.Errorf("oracle: store header: %w", err)
	}
	return nil
}

// UpdatePrice validates the feed snapshot and writes the asset's price
// through the volatility gate. A gate breach trips the emergency stop before
// the error propagates; the stale-but-last-known-good price is preserved and
// further writes halt pending review.
func (e *Engine) UpdatePrice(asset AssetKind, snap FeedSnapshot, now int64) error {
	if e == nil {
		return fmt.Errorf("oracle: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	header, err := e.loadHeader()
	if err != nil {
		return err
	}
	if err := header.CheckNotStopped(); err != nil {
		return err
	}
	price, err := ValidateSnapshot(snap, header.FeedAuthority, now, e.params.PriceBounds())
	if err != nil {
		return err
	}
	slot, err := e.registry.Register(asset)
	if err != nil {
		return err
	}
	if err := e.ledger.ApplyPriceUpdate(slot, price, now, e.params.MaxPriceChangeRatio); err != nil {
		return e.handleApplyError(header, err)
	}
	return e.commit(header, now)
}

// UpdateAPY validates the feed snapshot and overwrites the asset's APY. APY
// carries no volatility bound.
func (e *Engine) UpdateAPY(asset AssetKind, snap FeedSnapshot, now int64) error {
	if e == nil {
		return fmt.Errorf("oracle: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	header, err := e.loadHeader()
	if err != nil {
		return err
	}
	if err := header.CheckNotStopped(); err != nil {
		return err
	}
	apy, err := ValidateSnapshot(snap, header.FeedAuthority, now, e.params.APYBounds())
	if err != nil {
		return err
	}
	slot, err := e.registry.Register(asset)
	if err != nil {
		return err
	}
	if err := e.ledger.ApplyAPYUpdate(slot, apy, now); err != nil {
		return e.handleApplyError(header, err)
	}
	return e.commit(header, now)
}

// UpdatePriceAndAPY applies both values for one asset in a single
// all-or-nothing write. The price gate runs first; when it fails the APY is
// also left unmodified.
func (e *Engine) UpdatePriceAndAPY(asset AssetKind, priceSnap, apySnap FeedSnapshot, now int64) error {
	if e == nil {
		return fmt.Errorf("oracle: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	header, err := e.loadHeader()
	if err != nil {
		return err
	}
	if err := header.CheckNotStopped(); err != nil {
		return err
	}
	price, err := ValidateSnapshot(priceSnap, header.FeedAuthority, now, e.params.PriceBounds())
	if err != nil {
		return err
	}
	apy, err := ValidateSnapshot(apySnap, header.FeedAuthority, now, e.params.APYBounds())
	if err != nil {
		return err
	}
	slot, err := e.registry.Register(asset)
	if err != nil {
		return err
	}
	if err := e.ledger.ApplyPriceAndAPYUpdate(slot, price, apy, now, e.params.MaxPriceChangeRatio); err != nil {
		return e.handleApplyError(header, err)
	}
	return e.commit(header, now)
}

// UpdateAllFromPacked refreshes the six packed assets from a single
// multi-asset reading. The snapshot's owner and freshness are validated like
// any other; the payload itself must decode to exactly twelve values. The
// write is all-or-nothing: a gate breach on any asset trips the emergency
// stop and leaves every record untouched.
func (e *Engine) UpdateAllFromPacked(snap FeedSnapshot, now int64) error {
	if e == nil {
		return fmt.Errorf("oracle: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	header, err := e.loadHeader()
	if err != nil {
		return err
	}
	if err := header.CheckNotStopped(); err != nil {
		return err
	}
	if snap.Owner != header.FeedAuthority {
		return fmt.Errorf("%w: owner %q, want %q", ErrInvalidFeedAccount, snap.Owner, header.FeedAuthority)
	}
	if e.params.MaxFeedAgeSeconds > 0 && now-snap.Timestamp > e.params.MaxFeedAgeSeconds {
		return fmt.Errorf("%w: snapshot age %ds exceeds %ds", ErrStaleData, now-snap.Timestamp, e.params.MaxFeedAgeSeconds)
	}
	raw := snap.Payload
	if raw == "" {
		// Some legacy feeds smuggle the payload through the decimal
		// channel.
		var err error
		raw, err = snap.Result.Text()
		if err != nil {
			return err
		}
	}
	reading, err := ParsePackedReading(raw)
	if err != nil {
		return err
	}
	slots := make([]int, 0, PackedAssetCount)
	for _, asset := range PackedAssetKinds() {
		slot, err := e.registry.Register(asset)
		if err != nil {
			return err
		}
		slots = append(slots, slot)
	}
	if err := e.ledger.ApplyBatchUpdate(slots, reading.Prices[:], reading.APYs[:], now, e.params.MaxPriceChangeRatio); err != nil {
		return e.handleApplyError(header, err)
	}
	return e.commit(header, now)
}

// handleApplyError trips the emergency stop on a volatility breach, the only
// failure with a durable side effect, and propagates the ledger error.
func (e *Engine) handleApplyError(header Header, applyErr error) error {
	if errors.Is(applyErr, ErrPriceChangeExceedsLimit) {
		header.trip()
		if err := e.putHeader(header); err != nil {
			return err
		}
	}
	return applyErr
}

// commit stamps the global update time; it runs only after every ledger
// write in the operation succeeded.
func (e *Engine) commit(header Header, now int64) error {
	header.LastGlobalUpdate = now
	header.AssetCount = uint8(e.registry.Slots())
	return e.putHeader(header)
}

// CurrentPrice returns the last trusted price for the asset. Reads bypass
// the emergency gate so dependents can observe the last known-good value
// while the system is halted.
func (e *Engine) CurrentPrice(asset AssetKind) (float64, error) {
	record, err := e.readRecord(asset)
	if err != nil {
		return 0, err
	}
	return record.Price, nil
}

// CurrentAPY returns the last written APY for the asset.
func (e *Engine) CurrentAPY(asset AssetKind) (float64, error) {
	record, err := e.readRecord(asset)
	if err != nil {
		return 0, err
	}
	return record.APY, nil
}

// AssetRecord returns the full record for the asset, for status reporting.
func (e *Engine) AssetRecord(asset AssetKind) (PriceRecord, error) {
	return e.readRecord(asset)
}

func (e *Engine) readRecord(asset AssetKind) (PriceRecord, error) {
	if e == nil {
		return PriceRecord{}, fmt.Errorf("oracle: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, err := e.registry.SlotFor(asset)
	if err != nil {
		return PriceRecord{}, err
	}
	record, ok, err := e.ledger.Record(slot)
	if err != nil {
		return PriceRecord{}, err
	}
	if !ok || !record.Initialized() {
		return PriceRecord{}, fmt.Errorf("%w: %s", ErrDataNotAvailable, asset)
	}
	return record, nil
}

// SetEmergencyStop toggles the halt flag on behalf of caller; only the
// header authority may do so.
func (e *Engine) SetEmergencyStop(caller string, stop bool) error {
	if e == nil {
		return fmt.Errorf("oracle: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	header, err := e.loadHeader()
	if err != nil {
		return err
	}
	if err := header.SetEmergencyStop(caller, stop); err != nil {
		return err
	}
	return e.putHeader(header)
}

// EmergencyStopped reports whether the halt flag is engaged.
func (e *Engine) EmergencyStopped() (bool, error) {
	if e == nil {
		return false, fmt.Errorf("oracle: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	header, err := e.loadHeader()
	if err != nil {
		return false, err
	}
	return header.EmergencyStop, nil
}

// Header returns a copy of the control block.
func (e *Engine) Header() (Header, error) {
	if e == nil {
		return Header{}, fmt.Errorf("oracle: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadHeader()
}
