package oracle

import (
	"errors"
	"testing"

	"stakeoracle/state"
)

const testAuthority = "ops"

func testParams(t *testing.T) Params {
	t.Helper()
	params, err := Config{}.Parameters()
	if err != nil {
		t.Fatalf("default params: %v", err)
	}
	return params
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(state.NewMemory(), testParams(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Initialize(testAuthority, testFeedAuthority); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine
}

// pricedSnapshot builds a fresh snapshot conveying value cents/100 with a
// tight confidence band.
func pricedSnapshot(cents int64, ts int64) FeedSnapshot {
	return FeedSnapshot{
		Result:    NewDecimal(cents, 2),
		StdDev:    NewDecimal(1, 3),
		Timestamp: ts,
		Owner:     testFeedAuthority,
	}
}

func apySnapshot(basisPoints int64, ts int64) FeedSnapshot {
	return FeedSnapshot{
		Result:    NewDecimal(basisPoints, 4),
		StdDev:    NewDecimal(0, 0),
		Timestamp: ts,
		Owner:     testFeedAuthority,
	}
}

func TestEngineInitialize(t *testing.T) {
	engine := newTestEngine(t)
	header, err := engine.Header()
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if header.Authority != testAuthority || header.FeedAuthority != testFeedAuthority {
		t.Fatalf("unexpected header: %+v", header)
	}
	if header.EmergencyStop {
		t.Fatalf("new oracle must start running")
	}
	if header.LastGlobalUpdate != 0 {
		t.Fatalf("unexpected global update stamp: %d", header.LastGlobalUpdate)
	}
	for _, asset := range AssetKinds() {
		if _, err := engine.CurrentPrice(asset); !errors.Is(err, ErrDataNotAvailable) {
			t.Fatalf("%s: expected ErrDataNotAvailable, got %v", asset, err)
		}
	}
}

func TestEngineRequiresInitialization(t *testing.T) {
	engine, err := NewEngine(state.NewMemory(), testParams(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.UpdatePrice(AssetSOL, pricedSnapshot(15000, 100), 150); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestEngineUpdatePriceRoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.UpdatePrice(AssetSOL, pricedSnapshot(15610, 100), 150); err != nil {
		t.Fatalf("update: %v", err)
	}
	price, err := engine.CurrentPrice(AssetSOL)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if price != 156.10 {
		t.Fatalf("read returned %g, want exactly the written value", price)
	}
	header, _ := engine.Header()
	if header.LastGlobalUpdate != 150 {
		t.Fatalf("global update not stamped: %d", header.LastGlobalUpdate)
	}
}

func TestEngineVolatilityBreachTripsStop(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.UpdatePrice(AssetMSOL, pricedSnapshot(10000, 100), 150); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := engine.UpdatePrice(AssetMSOL, pricedSnapshot(12100, 200), 250)
	if !errors.Is(err, ErrPriceChangeExceedsLimit) {
		t.Fatalf("expected ErrPriceChangeExceedsLimit, got %v", err)
	}
	stopped, err := engine.EmergencyStopped()
	if err != nil {
		t.Fatalf("stopped: %v", err)
	}
	if !stopped {
		t.Fatalf("volatility breach must trip the emergency stop")
	}

	// The stale-but-last-known-good price is preserved and still readable.
	price, err := engine.CurrentPrice(AssetMSOL)
	if err != nil {
		t.Fatalf("read while stopped: %v", err)
	}
	if price != 100.0 {
		t.Fatalf("unexpected price after breach: %g", price)
	}
	header, _ := engine.Header()
	if header.LastGlobalUpdate != 150 {
		t.Fatalf("failed update stamped the header: %d", header.LastGlobalUpdate)
	}

	// Every further mutating call fails fast until the authority resumes.
	if err := engine.UpdatePrice(AssetSOL, pricedSnapshot(15000, 300), 350); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := engine.UpdateAPY(AssetMSOL, apySnapshot(750, 300), 350); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}

	if err := engine.SetEmergencyStop(testAuthority, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := engine.UpdatePrice(AssetMSOL, pricedSnapshot(11000, 400), 450); err != nil {
		t.Fatalf("update after resume: %v", err)
	}
}

func TestEngineUpdateWithinBoundLeavesStopClear(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.UpdatePrice(AssetMSOL, pricedSnapshot(10000, 100), 150); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := engine.UpdatePrice(AssetMSOL, pricedSnapshot(11900, 200), 250); err != nil {
		t.Fatalf("19%% update: %v", err)
	}
	stopped, _ := engine.EmergencyStopped()
	if stopped {
		t.Fatalf("in-bound update tripped the stop")
	}
	record, err := engine.AssetRecord(AssetMSOL)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.Price != 119.0 || record.PreviousPrice != 100.0 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestEngineValidationFailuresLeaveStateUntouched(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.UpdatePrice(AssetSOL, pricedSnapshot(15000, 100), 150); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stale := pricedSnapshot(16000, 100)
	if err := engine.UpdatePrice(AssetSOL, stale, 500); !errors.Is(err, ErrStaleData) {
		t.Fatalf("expected ErrStaleData, got %v", err)
	}
	foreign := pricedSnapshot(16000, 600)
	foreign.Owner = "imposter"
	if err := engine.UpdatePrice(AssetSOL, foreign, 650); !errors.Is(err, ErrInvalidFeedAccount) {
		t.Fatalf("expected ErrInvalidFeedAccount, got %v", err)
	}

	price, err := engine.CurrentPrice(AssetSOL)
	if err != nil || price != 150.0 {
		t.Fatalf("state changed after rejected updates: %g, %v", price, err)
	}
	header, _ := engine.Header()
	if header.LastGlobalUpdate != 150 {
		t.Fatalf("rejected update stamped the header: %d", header.LastGlobalUpdate)
	}
	if stopped, _ := engine.EmergencyStopped(); stopped {
		t.Fatalf("validation failure must not trip the stop")
	}
}

func TestEngineUpdateAPY(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.UpdateAPY(AssetJitoSOL, apySnapshot(785, 100), 150); err != nil {
		t.Fatalf("apy update: %v", err)
	}
	apy, err := engine.CurrentAPY(AssetJitoSOL)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if apy != 0.0785 {
		t.Fatalf("unexpected apy %g", apy)
	}
}

func TestEngineUpdatePriceAndAPYAllOrNothing(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.UpdatePriceAndAPY(AssetBSOL, pricedSnapshot(10000, 100), apySnapshot(500, 100), 150); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := engine.UpdatePriceAndAPY(AssetBSOL, pricedSnapshot(13000, 200), apySnapshot(900, 200), 250)
	if !errors.Is(err, ErrPriceChangeExceedsLimit) {
		t.Fatalf("expected ErrPriceChangeExceedsLimit, got %v", err)
	}
	record, err := engine.AssetRecord(AssetBSOL)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.APY != 0.05 || record.Price != 100.0 {
		t.Fatalf("partial write after failed combined update: %+v", record)
	}
}

func TestEngineUpdateAllFromPacked(t *testing.T) {
	engine := newTestEngine(t)
	snap := FeedSnapshot{
		Payload:   "1.01,0.05,1.02,0.06,1.03,0.07,1.04,0.08,1.05,0.09,1.06,0.10",
		Timestamp: 100,
		Owner:     testFeedAuthority,
	}
	if err := engine.UpdateAllFromPacked(snap, 150); err != nil {
		t.Fatalf("packed update: %v", err)
	}
	for i, asset := range PackedAssetKinds() {
		record, err := engine.AssetRecord(asset)
		if err != nil {
			t.Fatalf("%s: %v", asset, err)
		}
		wantPrice := 1.01 + float64(i)*0.01
		if record.Price != wantPrice {
			t.Fatalf("%s: price %g, want %g", asset, record.Price, wantPrice)
		}
	}
	// SOL is excluded from the packed path.
	if _, err := engine.CurrentPrice(AssetSOL); !errors.Is(err, ErrDataNotAvailable) {
		t.Fatalf("packed update must not touch SOL, got %v", err)
	}
}

func TestEngineUpdateAllFromPackedAtomicOnBreach(t *testing.T) {
	engine := newTestEngine(t)
	seed := FeedSnapshot{
		Payload:   "1.00,0.05,1.00,0.05,1.00,0.05,1.00,0.05,1.00,0.05,1.00,0.05",
		Timestamp: 100,
		Owner:     testFeedAuthority,
	}
	if err := engine.UpdateAllFromPacked(seed, 150); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The third asset jumps 50%; the in-bound values ahead of it in the
	// payload must not land either.
	breach := FeedSnapshot{
		Payload:   "1.10,0.06,1.10,0.06,1.50,0.06,1.10,0.06,1.10,0.06,1.10,0.06",
		Timestamp: 200,
		Owner:     testFeedAuthority,
	}
	err := engine.UpdateAllFromPacked(breach, 250)
	if !errors.Is(err, ErrPriceChangeExceedsLimit) {
		t.Fatalf("expected ErrPriceChangeExceedsLimit, got %v", err)
	}
	for _, asset := range PackedAssetKinds() {
		record, err := engine.AssetRecord(asset)
		if err != nil {
			t.Fatalf("%s: %v", asset, err)
		}
		if record.Price != 1.00 || record.APY != 0.05 || record.LastUpdateTime != 150 {
			t.Fatalf("%s mutated by failed packed update: %+v", asset, record)
		}
	}
	stopped, err := engine.EmergencyStopped()
	if err != nil || !stopped {
		t.Fatalf("breach must trip the stop: %v, %v", stopped, err)
	}
	header, _ := engine.Header()
	if header.LastGlobalUpdate != 150 {
		t.Fatalf("failed packed update stamped the header: %d", header.LastGlobalUpdate)
	}
}

func TestEngineUpdateAllFromPackedFailsClosed(t *testing.T) {
	engine := newTestEngine(t)
	snap := FeedSnapshot{
		Payload:   "1.01,0.05,1.02",
		Timestamp: 100,
		Owner:     testFeedAuthority,
	}
	if err := engine.UpdateAllFromPacked(snap, 150); err == nil {
		t.Fatalf("short payload must fail closed")
	}
	for _, asset := range PackedAssetKinds() {
		if _, err := engine.CurrentPrice(asset); !errors.Is(err, ErrDataNotAvailable) {
			t.Fatalf("%s: short payload mutated state: %v", asset, err)
		}
	}
}

func TestEngineReadsBypassEmergencyStop(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.UpdatePriceAndAPY(AssetHSOL, pricedSnapshot(10000, 100), apySnapshot(650, 100), 150); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := engine.SetEmergencyStop(testAuthority, true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if price, err := engine.CurrentPrice(AssetHSOL); err != nil || price != 100.0 {
		t.Fatalf("read while stopped: %g, %v", price, err)
	}
	if apy, err := engine.CurrentAPY(AssetHSOL); err != nil || apy != 0.065 {
		t.Fatalf("apy read while stopped: %g, %v", apy, err)
	}
}

func TestEngineSetEmergencyStopUnauthorized(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.SetEmergencyStop("intruder", true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if stopped, _ := engine.EmergencyStopped(); stopped {
		t.Fatalf("unauthorized toggle engaged the stop")
	}
}

// The engine deliberately trusts caller-supplied clocks: a timestamp older
// than the stored LastUpdateTime moves the record backwards. Call ordering is
// the hosting environment's responsibility, so the literal behaviour is
// asserted here rather than "fixed".
func TestEngineAcceptsBackwardsTimestamps(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.UpdatePrice(AssetVSOL, pricedSnapshot(10000, 1000), 1000); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := engine.UpdatePrice(AssetVSOL, pricedSnapshot(10100, 900), 900); err != nil {
		t.Fatalf("backwards update: %v", err)
	}
	record, err := engine.AssetRecord(AssetVSOL)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.LastUpdateTime != 900 {
		t.Fatalf("expected the stored time to move backwards, got %d", record.LastUpdateTime)
	}
}

func TestEngineDynamicRegistry(t *testing.T) {
	cfg := Config{RegistryMode: RegistryModeDynamic, MaxAssets: 3}
	params, err := cfg.Parameters()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	engine, err := NewEngine(state.NewMemory(), params)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Initialize(testAuthority, testFeedAuthority); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := engine.UpdatePrice(AssetSOL, pricedSnapshot(15000, 100), 150); err != nil {
		t.Fatalf("first-use registration: %v", err)
	}
	header, _ := engine.Header()
	if header.AssetCount != 1 {
		t.Fatalf("asset count not tracked: %d", header.AssetCount)
	}
	// Unregistered assets are invisible to reads.
	if _, err := engine.CurrentPrice(AssetMSOL); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}
