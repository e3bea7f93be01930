package oracle

import (
	"fmt"
	"math/big"
	"strings"
)

// AssetKind identifies one of the liquid-staking tokens tracked by the oracle
// plus the base SOL asset. The declaration order is the canonical slot order
// used by the static registry; SOL is deliberately last.
type AssetKind uint8

const (
	AssetJupSOL AssetKind = iota
	AssetVSOL
	AssetBSOL
	AssetMSOL
	AssetHSOL
	AssetJitoSOL
	AssetSOL
)

// AssetCount is the size of the canonical asset set.
const AssetCount = 7

// PackedAssetCount is the number of assets carried by a packed multi-asset
// feed reading. SOL is published through its own feed and is not part of the
// packed payload.
const PackedAssetCount = 6

var assetNames = [AssetCount]string{
	"jupsol",
	"vsol",
	"bsol",
	"msol",
	"hsol",
	"jitosol",
	"sol",
}

// String renders the lowercase canonical symbol for the asset.
func (a AssetKind) String() string {
	if int(a) < len(assetNames) {
		return assetNames[a]
	}
	return fmt.Sprintf("asset(%d)", uint8(a))
}

// Valid reports whether the value names a member of the canonical asset set.
func (a AssetKind) Valid() bool {
	return int(a) < AssetCount
}

// ParseAssetKind resolves a case-insensitive asset symbol.
func ParseAssetKind(symbol string) (AssetKind, error) {
	needle := strings.ToLower(strings.TrimSpace(symbol))
	for i, name := range assetNames {
		if name == needle {
			return AssetKind(i), nil
		}
	}
	return 0, fmt.Errorf("oracle: unknown asset %q", symbol)
}

// AssetKinds returns the canonical asset set in slot order.
func AssetKinds() []AssetKind {
	kinds := make([]AssetKind, AssetCount)
	for i := range kinds {
		kinds[i] = AssetKind(i)
	}
	return kinds
}

// PackedAssetKinds returns the assets carried by a packed feed reading in
// payload order.
func PackedAssetKinds() []AssetKind {
	return AssetKinds()[:PackedAssetCount]
}

// Decimal is the scaled-decimal representation used by the upstream feed:
// the conveyed value is Mantissa * 10^-Scale.
type Decimal struct {
	Mantissa *big.Int
	Scale    int32
}

// NewDecimal constructs a Decimal from an int64 mantissa.
func NewDecimal(mantissa int64, scale int32) Decimal {
	return Decimal{Mantissa: big.NewInt(mantissa), Scale: scale}
}

// FeedSnapshot is a read-only reading produced by the external feed. The core
// treats it purely as data; aggregation happens upstream.
type FeedSnapshot struct {
	// Result carries the aggregated reading.
	Result Decimal
	// StdDev is the feed's reported uncertainty band, in the same scaled
	// representation as Result.
	StdDev Decimal
	// Payload carries the textual form for feeds that publish structured
	// text, such as the packed multi-asset encoding. Scalar feeds leave it
	// empty.
	Payload string
	// Timestamp is the unix-second time the feed last updated.
	Timestamp int64
	// Owner is the identity of the program that produced the snapshot.
	Owner string
}

// PriceRecord holds the attested state for one asset. A zero LastUpdateTime
// marks a record that has never been written, which is how a default zero
// price is told apart from a legitimate one.
type PriceRecord struct {
	Price          float64
	PreviousPrice  float64
	APY            float64
	LastUpdateTime int64
}

// Initialized reports whether the record has ever been written.
func (r PriceRecord) Initialized() bool {
	return r.LastUpdateTime != 0
}

// Header is the singleton control block gating every write.
type Header struct {
	// Authority is the identity allowed to toggle the emergency stop and
	// administer the registry.
	Authority string
	// FeedAuthority is the program identity feed snapshots must declare as
	// their owner to be trusted.
	FeedAuthority string
	EmergencyStop bool
	// LastGlobalUpdate is stamped only when a mutating operation commits.
	LastGlobalUpdate int64
	// AssetCount tracks registered slots when the dynamic registry is in
	// effect; the static registry leaves it pinned at the full set size.
	AssetCount uint8
}
