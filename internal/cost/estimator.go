// Package cost estimates the all-in cost of an arbitrage trade in basis
// points of notional: venue fees, price impact and settlement gas.
package cost

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	bpsScale = decimal.NewFromInt(10000)
	weiScale = decimal.New(1, 18)
	gweiWei  = decimal.New(1, 9)
)

// FeeOracle reports current EIP-1559 fee levels in wei.
type FeeOracle interface {
	GasPrice(ctx context.Context) (tip, baseFee *big.Int, err error)
}

// NativePricer returns the price of the chain's native token in quote units.
type NativePricer interface {
	NativePrice(now time.Time) (decimal.Decimal, bool)
}

// Config holds estimator parameters.
type Config struct {
	DefaultFeeBps       decimal.Decimal
	VenueFeeBps         map[string]decimal.Decimal
	SlippageCoefficient decimal.Decimal
	GasLimit            uint64
	RefreshInterval     time.Duration
	CallTimeout         time.Duration
	GasMaxAge           time.Duration
	FallbackGasBps      decimal.Decimal
	FallbackMaxFeeGwei  decimal.Decimal
	FallbackTipGwei     decimal.Decimal
	NativePrice         decimal.Decimal
}

// Query describes the trade being priced.
type Query struct {
	BuyVenue  string
	SellVenue string
	TradeSize decimal.Decimal
	BuyDepth  decimal.Decimal
	SellDepth decimal.Decimal
	At        time.Time
}

type feeQuote struct {
	tip       *big.Int
	baseFee   *big.Int
	fetchedAt time.Time
}

// Estimator prices trades from a cached fee quote so Estimate never blocks
// on the network.
type Estimator struct {
	cfg    Config
	oracle FeeOracle
	native NativePricer
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	quote *feeQuote
}

// NewEstimator creates an estimator. oracle and native may be nil, in which
// case the gas component always uses the fallback.
func NewEstimator(cfg Config, oracle FeeOracle, native NativePricer, logger *slog.Logger) *Estimator {
	return &Estimator{
		cfg:    cfg,
		oracle: oracle,
		native: native,
		logger: logger.With(slog.String("component", "cost_estimator")),
		now:    time.Now,
	}
}

// Estimate returns the cost breakdown for q. Fee and slippage are always
// computed from config; only the gas component degrades to the fallback.
func (e *Estimator) Estimate(q Query) domain.CostBreakdown {
	out := domain.CostBreakdown{
		FeeBps:      e.feeBps(q.BuyVenue).Add(e.feeBps(q.SellVenue)),
		SlippageBps: e.slippageBps(q),
	}
	gas, ok := e.gasBps(q)
	if !ok {
		gas = e.cfg.FallbackGasBps
		out.Degraded = true
	}
	out.GasBps = gas
	return out
}

func (e *Estimator) feeBps(venue string) decimal.Decimal {
	if f, ok := e.cfg.VenueFeeBps[venue]; ok {
		return f
	}
	return e.cfg.DefaultFeeBps
}

func (e *Estimator) slippageBps(q Query) decimal.Decimal {
	if !q.TradeSize.IsPositive() {
		return decimal.Zero
	}
	impact := decimal.Zero
	if q.BuyDepth.IsPositive() {
		impact = impact.Add(q.TradeSize.Div(q.BuyDepth))
	}
	if q.SellDepth.IsPositive() {
		impact = impact.Add(q.TradeSize.Div(q.SellDepth))
	}
	return e.cfg.SlippageCoefficient.Mul(impact).Mul(bpsScale)
}

func (e *Estimator) gasBps(q Query) (decimal.Decimal, bool) {
	if !q.TradeSize.IsPositive() {
		return decimal.Zero, false
	}
	at := q.At
	if at.IsZero() {
		at = e.now()
	}

	e.mu.RLock()
	quote := e.quote
	e.mu.RUnlock()
	if quote == nil || at.Sub(quote.fetchedAt) > e.cfg.GasMaxAge {
		return decimal.Zero, false
	}

	price := e.cfg.NativePrice
	if e.native != nil {
		if p, ok := e.native.NativePrice(at); ok {
			price = p
		}
	}
	if !price.IsPositive() {
		return decimal.Zero, false
	}

	gasPrice := new(big.Int).Add(quote.baseFee, quote.tip)
	nativeCost := decimal.NewFromBigInt(gasPrice, 0).
		Mul(decimal.NewFromInt(int64(e.cfg.GasLimit))).
		Div(weiScale)
	return nativeCost.Mul(price).Div(q.TradeSize).Mul(bpsScale), true
}

// Refresh fetches a new fee quote and caches it.
func (e *Estimator) Refresh(ctx context.Context) error {
	if e.oracle == nil {
		return fmt.Errorf("cost: refresh: %w", domain.ErrNoQuote)
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	tip, baseFee, err := e.oracle.GasPrice(cctx)
	if err != nil {
		return fmt.Errorf("cost: refresh: %w", err)
	}
	e.mu.Lock()
	e.quote = &feeQuote{tip: tip, baseFee: baseFee, fetchedAt: e.now()}
	e.mu.Unlock()
	return nil
}

// Run refreshes the fee quote every RefreshInterval until ctx is cancelled.
func (e *Estimator) Run(ctx context.Context) error {
	if e.oracle == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := e.Refresh(ctx); err != nil {
		e.logger.WarnContext(ctx, "initial fee refresh failed", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil {
				e.logger.WarnContext(ctx, "fee refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// TxParams returns final transaction fee parameters. It queries the oracle
// live and falls back to the cached quote, then to configured caps.
func (e *Estimator) TxParams(ctx context.Context) domain.TxParams {
	if e.oracle != nil {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		tip, baseFee, err := e.oracle.GasPrice(cctx)
		cancel()
		if err == nil {
			e.mu.Lock()
			e.quote = &feeQuote{tip: tip, baseFee: baseFee, fetchedAt: e.now()}
			e.mu.Unlock()
			return e.params(tip, baseFee, false)
		}
		e.logger.WarnContext(ctx, "live fee query failed, using fallback", slog.String("error", err.Error()))
	}

	e.mu.RLock()
	quote := e.quote
	e.mu.RUnlock()
	if quote != nil && e.now().Sub(quote.fetchedAt) <= e.cfg.GasMaxAge {
		return e.params(quote.tip, quote.baseFee, true)
	}

	feeCap := e.cfg.FallbackMaxFeeGwei.Mul(gweiWei).BigInt()
	tip := e.cfg.FallbackTipGwei.Mul(gweiWei).BigInt()
	if tip.Cmp(feeCap) > 0 {
		tip = new(big.Int).Set(feeCap)
	}
	return domain.TxParams{
		GasLimit:     e.cfg.GasLimit,
		GasFeeCap:    feeCap,
		GasTipCap:    tip,
		MaxFeeBudget: new(big.Int).Mul(feeCap, new(big.Int).SetUint64(e.cfg.GasLimit)),
		Degraded:     true,
	}
}

// params uses the usual 2*baseFee + tip fee cap so the transaction survives a
// few full blocks of base fee growth.
func (e *Estimator) params(tip, baseFee *big.Int, degraded bool) domain.TxParams {
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return domain.TxParams{
		GasLimit:     e.cfg.GasLimit,
		GasFeeCap:    feeCap,
		GasTipCap:    new(big.Int).Set(tip),
		MaxFeeBudget: new(big.Int).Mul(feeCap, new(big.Int).SetUint64(e.cfg.GasLimit)),
		Degraded:     degraded,
	}
}
