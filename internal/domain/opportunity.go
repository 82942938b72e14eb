package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// OpportunityKey identifies a (symbol, buy venue, sell venue) triple. It is
// deterministic, so the same key recurs every time that triple diverges.
type OpportunityKey common.Hash

// NewOpportunityKey hashes the canonical symbol and venue ids.
func NewOpportunityKey(symbol, buyVenue, sellVenue string) OpportunityKey {
	return OpportunityKey(ethcrypto.Keccak256Hash([]byte(symbol + "|" + buyVenue + "|" + sellVenue)))
}

// String returns the 0x-prefixed hex form.
func (k OpportunityKey) String() string {
	return common.Hash(k).Hex()
}

// Bytes32 returns the key as a fixed-size array for ABI encoding.
func (k OpportunityKey) Bytes32() [32]byte {
	return k
}

// CostBreakdown splits an estimated cost into its components, all in bps of
// trade notional.
type CostBreakdown struct {
	FeeBps      decimal.Decimal
	SlippageBps decimal.Decimal
	GasBps      decimal.Decimal
	// Degraded is set when the gas component came from the configured
	// fallback instead of a live fee estimate.
	Degraded bool
}

// TotalBps is the sum of all components.
func (c CostBreakdown) TotalBps() decimal.Decimal {
	return c.FeeBps.Add(c.SlippageBps).Add(c.GasBps)
}

// Opportunity is a candidate cross-venue trade produced by the detector and
// consumed by the coordinator within one scheduling turn.
type Opportunity struct {
	Key       OpportunityKey
	Symbol    string
	BuyVenue  string
	SellVenue string
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
	// TradeSize is the notional in quote units.
	TradeSize          decimal.Decimal
	GrossSpreadBps     decimal.Decimal
	EstimatedCostBps   decimal.Decimal
	Cost               CostBreakdown
	EstimatedNetProfit decimal.Decimal
	DetectedAt         time.Time
}

// NetSpreadBps is the gross spread minus the estimated cost.
func (o Opportunity) NetSpreadBps() decimal.Decimal {
	return o.GrossSpreadBps.Sub(o.EstimatedCostBps)
}

// ParseOpportunityKey parses the hex form produced by String.
func ParseOpportunityKey(s string) OpportunityKey {
	return OpportunityKey(common.HexToHash(s))
}
