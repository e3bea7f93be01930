package oracle

import (
	"fmt"
	"sync"
)

// Registry maps asset kinds to ledger slots. Two interchangeable strategies
// exist: the static registry fixes the mapping at the enum ordinal, while the
// dynamic registry allocates slots on first use up to a capacity bound.
// Ledger callers never need to know which is in effect.
type Registry interface {
	// SlotFor resolves the slot an asset occupies.
	SlotFor(asset AssetKind) (int, error)
	// Register ensures the asset has a slot and returns it. Registration
	// is idempotent: a repeated request returns the existing slot.
	Register(asset AssetKind) (int, error)
	// Slots reports how many slots are in use.
	Slots() int
}

// MaxAssets bounds the dynamic registry capacity.
const MaxAssets = 10

// StaticRegistry maps every canonical asset to its enum ordinal. The mapping
// is total over the canonical set, so lookups only fail for values outside
// the enumeration.
type StaticRegistry struct{}

// NewStaticRegistry constructs the fixed-slot registry.
func NewStaticRegistry() StaticRegistry {
	return StaticRegistry{}
}

// SlotFor returns the asset's fixed position in the enumeration.
func (StaticRegistry) SlotFor(asset AssetKind) (int, error) {
	if !asset.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	return int(asset), nil
}

// Register is a lookup in the static strategy; every canonical asset is
// pre-allocated at construction.
func (r StaticRegistry) Register(asset AssetKind) (int, error) {
	return r.SlotFor(asset)
}

// Slots reports the full canonical set size.
func (StaticRegistry) Slots() int {
	return AssetCount
}

// DynamicRegistry allocates slots on first registration, capped at the
// configured capacity, and looks assets up by linear scan.
type DynamicRegistry struct {
	mu       sync.RWMutex
	assets   []AssetKind
	capacity int
}

// NewDynamicRegistry constructs an empty dynamic registry. Capacities outside
// (0, MaxAssets] are coerced to MaxAssets.
func NewDynamicRegistry(capacity int) *DynamicRegistry {
	if capacity <= 0 || capacity > MaxAssets {
		capacity = MaxAssets
	}
	return &DynamicRegistry{capacity: capacity}
}

// SlotFor scans the registered assets for a slot.
func (r *DynamicRegistry) SlotFor(asset AssetKind) (int, error) {
	if r == nil {
		return 0, fmt.Errorf("oracle: registry not configured")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for slot, registered := range r.assets {
		if registered == asset {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
}

// Register returns the existing slot when the asset is already known and
// otherwise appends it, failing once capacity is exhausted.
func (r *DynamicRegistry) Register(asset AssetKind) (int, error) {
	if r == nil {
		return 0, fmt.Errorf("oracle: registry not configured")
	}
	if !asset.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for slot, registered := range r.assets {
		if registered == asset {
			return slot, nil
		}
	}
	if len(r.assets) >= r.capacity {
		return 0, fmt.Errorf("%w: capacity %d", ErrMaxAssetsReached, r.capacity)
	}
	r.assets = append(r.assets, asset)
	return len(r.assets) - 1, nil
}

// Slots reports the number of registered assets.
func (r *DynamicRegistry) Slots() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

// Registered returns the registered assets in slot order, for operator
// inspection.
func (r *DynamicRegistry) Registered() []AssetKind {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]AssetKind{}, r.assets...)
}
