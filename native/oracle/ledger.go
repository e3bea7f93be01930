package oracle

import (
	"fmt"
	"math"
	"strconv"
)

// Storage abstracts the subset of state-manager functionality the oracle
// needs. Values are rlp-encoded by the backend.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	recordKeyPrefix = []byte("oracle/record/")
	headerKey       = []byte("oracle/header")
)

func recordKey(slot int) []byte {
	return append(append([]byte{}, recordKeyPrefix...), []byte(strconv.Itoa(slot))...)
}

// rlp has no float support, so stored records carry prices in their shortest
// decimal string form and timestamps as unsigned seconds.
type storedPriceRecord struct {
	Price          string
	PreviousPrice  string
	APY            string
	LastUpdateTime uint64
}

type storedHeader struct {
	Authority        string
	FeedAuthority    string
	EmergencyStop    bool
	LastGlobalUpdate uint64
	AssetCount       uint8
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseValue(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("oracle: parse stored value %q: %w", raw, err)
	}
	return value, nil
}

func (r PriceRecord) stored() storedPriceRecord {
	return storedPriceRecord{
		Price:          formatValue(r.Price),
		PreviousPrice:  formatValue(r.PreviousPrice),
		APY:            formatValue(r.APY),
		LastUpdateTime: uint64(r.LastUpdateTime),
	}
}

func (s storedPriceRecord) record() (PriceRecord, error) {
	price, err := parseValue(s.Price)
	if err != nil {
		return PriceRecord{}, err
	}
	previous, err := parseValue(s.PreviousPrice)
	if err != nil {
		return PriceRecord{}, err
	}
	apy, err := parseValue(s.APY)
	if err != nil {
		return PriceRecord{}, err
	}
	return PriceRecord{
		Price:          price,
		PreviousPrice:  previous,
		APY:            apy,
		LastUpdateTime: int64(s.LastUpdateTime),
	}, nil
}

func (h Header) stored() storedHeader {
	return storedHeader{
		Authority:        h.Authority,
		FeedAuthority:    h.FeedAuthority,
		EmergencyStop:    h.EmergencyStop,
		LastGlobalUpdate: uint64(h.LastGlobalUpdate),
		AssetCount:       h.AssetCount,
	}
}

func (s storedHeader) header() Header {
	return Header{
		Authority:        s.Authority,
		FeedAuthority:    s.FeedAuthority,
		EmergencyStop:    s.EmergencyStop,
		LastGlobalUpdate: int64(s.LastGlobalUpdate),
		AssetCount:       s.AssetCount,
	}
}

// Ledger persists per-asset price records in the underlying key-value store
// and enforces the bounded-volatility rule on writes.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

// Reset zeroes the records for the given number of slots.
func (l *Ledger) Reset(slots int) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("oracle: ledger not configured")
	}
	for slot := 0; slot < slots; slot++ {
		if err := l.store.KVPut(recordKey(slot), PriceRecord{}.stored()); err != nil {
			return fmt.Errorf("oracle: reset slot %d: %w", slot, err)
		}
	}
	return nil
}

// Record loads the record for a slot. The second return reports whether the
// slot has ever been stored.
func (l *Ledger) Record(slot int) (PriceRecord, bool, error) {
	if l == nil || l.store == nil {
		return PriceRecord{}, false, fmt.Errorf("oracle: ledger not configured")
	}
	var stored storedPriceRecord
	ok, err := l.store.KVGet(recordKey(slot), &stored)
	if err != nil {
		return PriceRecord{}, false, fmt.Errorf("oracle: load slot %d: %w", slot, err)
	}
	if !ok {
		return PriceRecord{}, false, nil
	}
	record, err := stored.record()
	if err != nil {
		return PriceRecord{}, false, err
	}
	return record, true, nil
}

func (l *Ledger) putRecord(slot int, record PriceRecord) error {
	if err := l.store.KVPut(recordKey(slot), record.stored()); err != nil {
		return fmt.Errorf("oracle: store slot %d: %w", slot, err)
	}
	return nil
}

func checkPriceValue(value float64) error {
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return fmt.Errorf("%w: %g", ErrInvalidValue, value)
	}
	if value < 0 {
		return fmt.Errorf("%w: negative price %g", ErrInvalidValue, value)
	}
	return nil
}

// ApplyPriceUpdate writes a new price for the slot subject to the volatility
// gate. A record that has never held a price accepts any finite non-negative
// value unconditionally and seeds PreviousPrice with it; afterwards a
// relative change above maxRelativeChange leaves the record byte-for-byte
// unchanged and fails with ErrPriceChangeExceedsLimit.
func (l *Ledger) ApplyPriceUpdate(slot int, newPrice float64, now int64, maxRelativeChange float64) error {
	return l.apply(slot, &newPrice, nil, now, maxRelativeChange)
}

// ApplyAPYUpdate overwrites the slot's APY unconditionally; no volatility
// bound applies to APY.
func (l *Ledger) ApplyAPYUpdate(slot int, newAPY float64, now int64) error {
	return l.apply(slot, nil, &newAPY, now, 0)
}

// ApplyPriceAndAPYUpdate performs the price-change check first; when it
// fails the APY is also left unmodified, so the write is all-or-nothing per
// asset per call.
func (l *Ledger) ApplyPriceAndAPYUpdate(slot int, newPrice, newAPY float64, now int64, maxRelativeChange float64) error {
	return l.apply(slot, &newPrice, &newAPY, now, maxRelativeChange)
}

// ApplyBatchUpdate writes price and APY values for several slots as one
// all-or-nothing batch: every gate check runs against the stored records
// before anything is written, so a breach on any slot leaves the whole batch
// untouched.
func (l *Ledger) ApplyBatchUpdate(slots []int, prices, apys []float64, now int64, maxRelativeChange float64) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("oracle: ledger not configured")
	}
	if len(prices) != len(slots) || len(apys) != len(slots) {
		return fmt.Errorf("oracle: batch update length mismatch")
	}
	staged := make([]PriceRecord, len(slots))
	for i, slot := range slots {
		record, _, err := l.Record(slot)
		if err != nil {
			return err
		}
		updated, err := updatedRecord(record, slot, &prices[i], &apys[i], now, maxRelativeChange)
		if err != nil {
			return err
		}
		staged[i] = updated
	}
	for i, slot := range slots {
		if err := l.putRecord(slot, staged[i]); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) apply(slot int, newPrice, newAPY *float64, now int64, maxRelativeChange float64) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("oracle: ledger not configured")
	}
	record, _, err := l.Record(slot)
	if err != nil {
		return err
	}
	updated, err := updatedRecord(record, slot, newPrice, newAPY, now, maxRelativeChange)
	if err != nil {
		return err
	}
	return l.putRecord(slot, updated)
}

// updatedRecord computes the record an update would produce without touching
// storage, so callers can stage several updates and commit them together.
func updatedRecord(record PriceRecord, slot int, newPrice, newAPY *float64, now int64, maxRelativeChange float64) (PriceRecord, error) {
	if newPrice != nil {
		if err := checkPriceValue(*newPrice); err != nil {
			return PriceRecord{}, err
		}
		old := record.Price
		if old == 0 {
			// No prior baseline: accept and seed the previous value.
			record.PreviousPrice = *newPrice
			record.Price = *newPrice
		} else {
			change := math.Abs(*newPrice-old) / old
			if change > maxRelativeChange {
				return PriceRecord{}, fmt.Errorf("%w: %.4f relative change on slot %d (old %g, new %g)",
					ErrPriceChangeExceedsLimit, change, slot, old, *newPrice)
			}
			record.PreviousPrice = old
			record.Price = *newPrice
		}
	}
	if newAPY != nil {
		if math.IsInf(*newAPY, 0) || math.IsNaN(*newAPY) {
			return PriceRecord{}, fmt.Errorf("%w: apy %g", ErrInvalidValue, *newAPY)
		}
		record.APY = *newAPY
	}
	record.LastUpdateTime = now
	return record, nil
}
