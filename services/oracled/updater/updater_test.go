package updater

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"stakeoracle/native/oracle"
	"stakeoracle/services/oracled/feed"
	"stakeoracle/services/oracled/storage"
	"stakeoracle/state"
)

const (
	testAuthority     = "ops"
	testFeedAuthority = "switchboard-devnet"
)

func newUpdaterEngine(t *testing.T) *oracle.Engine {
	t.Helper()
	params, err := oracle.Config{}.Parameters()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	engine, err := oracle.NewEngine(state.NewMemory(), params)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := engine.Initialize(testAuthority, testFeedAuthority); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func scalarSnapshot(cents, ts int64) oracle.FeedSnapshot {
	return oracle.FeedSnapshot{
		Result:    oracle.NewDecimal(cents, 2),
		StdDev:    oracle.NewDecimal(1, 3),
		Timestamp: ts,
		Owner:     testFeedAuthority,
	}
}

func TestNewValidation(t *testing.T) {
	engine := newUpdaterEngine(t)
	if _, err := New(nil, nil, feed.NewStaticSource("p"), nil, time.Minute); err == nil {
		t.Fatalf("nil engine accepted")
	}
	if _, err := New(engine, nil, nil, nil, time.Minute); err == nil {
		t.Fatalf("sourceless manager accepted")
	}
	if _, err := New(engine, nil, feed.NewStaticSource("p"), nil, 0); err == nil {
		t.Fatalf("non-positive interval accepted")
	}
}

func TestTickScalarUpdates(t *testing.T) {
	engine := newUpdaterEngine(t)
	solFeed := feed.NewStaticSource("sol-spot")
	solFeed.Set(scalarSnapshot(15610, 980))
	msolFeed := feed.NewStaticSource("msol-spot")
	msolFeed.Set(scalarSnapshot(11800, 985))

	mgr, err := New(engine, nil, nil, map[oracle.AssetKind]feed.Source{
		oracle.AssetSOL:  solFeed,
		oracle.AssetMSOL: msolFeed,
	}, time.Minute, WithLogger(quietLogger()), WithClock(fixedClock(1000)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	price, err := engine.CurrentPrice(oracle.AssetSOL)
	if err != nil || price != 156.10 {
		t.Fatalf("sol price: %g, %v", price, err)
	}
	price, err = engine.CurrentPrice(oracle.AssetMSOL)
	if err != nil || price != 118.0 {
		t.Fatalf("msol price: %g, %v", price, err)
	}
}

func TestTickPackedUpdates(t *testing.T) {
	engine := newUpdaterEngine(t)
	packed := feed.NewStaticSource("packed")
	packed.Set(oracle.FeedSnapshot{
		Payload:   "1.01,0.05,1.02,0.06,1.03,0.07,1.04,0.08,1.05,0.09,1.06,0.10",
		Timestamp: 980,
		Owner:     testFeedAuthority,
	})

	mgr, err := New(engine, nil, packed, nil, time.Minute, WithLogger(quietLogger()), WithClock(fixedClock(1000)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	price, err := engine.CurrentPrice(oracle.AssetJupSOL)
	if err != nil || price != 1.01 {
		t.Fatalf("jupsol price: %g, %v", price, err)
	}
}

func TestTickFetchFailureDoesNotAbortPass(t *testing.T) {
	engine := newUpdaterEngine(t)
	broken := feed.NewStaticSource("sol-spot")
	broken.Fail(errors.New("upstream down"))
	healthy := feed.NewStaticSource("msol-spot")
	healthy.Set(scalarSnapshot(11800, 985))

	mgr, err := New(engine, nil, nil, map[oracle.AssetKind]feed.Source{
		oracle.AssetSOL:  broken,
		oracle.AssetMSOL: healthy,
	}, time.Minute, WithLogger(quietLogger()), WithClock(fixedClock(1000)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tickErr := mgr.Tick(context.Background())
	if tickErr == nil {
		t.Fatalf("expected aggregated error")
	}
	// The healthy feed still produced an update.
	price, err := engine.CurrentPrice(oracle.AssetMSOL)
	if err != nil || price != 118.0 {
		t.Fatalf("msol price: %g, %v", price, err)
	}
}

func TestTickVolatilityBreachHaltsPass(t *testing.T) {
	engine := newUpdaterEngine(t)
	store, err := storage.Open(filepath.Join(t.TempDir(), "oracled.db"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	defer store.Close()

	jupFeed := feed.NewStaticSource("jupsol-spot")
	jupFeed.Set(scalarSnapshot(10000, 980))
	solFeed := feed.NewStaticSource("sol-spot")
	solFeed.Set(scalarSnapshot(15000, 980))
	sources := map[oracle.AssetKind]feed.Source{
		oracle.AssetJupSOL: jupFeed,
		oracle.AssetSOL:    solFeed,
	}
	mgr, err := New(engine, store, nil, sources, time.Minute, WithLogger(quietLogger()), WithClock(fixedClock(1000)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("seed tick: %v", err)
	}

	// jupsol jumps 21%: the gate trips and sol is not attempted.
	jupFeed.Set(scalarSnapshot(12100, 1040))
	solFeed.Set(scalarSnapshot(16000, 1040))
	mgr.now = fixedClock(1060)
	tickErr := mgr.Tick(context.Background())
	if !errors.Is(tickErr, oracle.ErrPriceChangeExceedsLimit) {
		t.Fatalf("expected gate breach, got %v", tickErr)
	}
	stopped, err := engine.EmergencyStopped()
	if err != nil || !stopped {
		t.Fatalf("stop not engaged: %v, %v", stopped, err)
	}
	price, err := engine.CurrentPrice(oracle.AssetSOL)
	if err != nil || price != 150.0 {
		t.Fatalf("sol touched after breach: %g, %v", price, err)
	}

	// The breach is journalled along with the control transition.
	updates, err := store.RecentUpdates(context.Background(), oracle.AssetJupSOL.String(), 10)
	if err != nil {
		t.Fatalf("recent updates: %v", err)
	}
	var sawRejection bool
	for _, entry := range updates {
		if entry.Outcome == "rejected" {
			sawRejection = true
		}
	}
	if !sawRejection {
		t.Fatalf("breach missing from audit journal: %+v", updates)
	}
	events, err := store.ControlEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("control events: %v", err)
	}
	if len(events) != 1 || !events[0].Engaged || events[0].Actor != "volatility-gate" {
		t.Fatalf("unexpected control events: %+v", events)
	}

	// Subsequent passes skip cleanly while the stop is engaged.
	mgr.now = fixedClock(1120)
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("halted tick must not error: %v", err)
	}
}
