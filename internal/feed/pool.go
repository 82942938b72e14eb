package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/retry"
)

// PoolReader reads constant-product pair state from chain.
type PoolReader interface {
	PairInfo(ctx context.Context, pair common.Address) (domain.PoolInfo, error)
	Reserves(ctx context.Context, pair common.Address) (domain.Reserves, error)
	AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// PoolSpec is one polled pair.
type PoolSpec struct {
	Symbol    string
	Pair      common.Address
	BaseToken common.Address
	// Router and ProbeAmount enable the effective-rate quote through
	// getAmountsOut. ProbeAmount is in base units.
	Router      common.Address
	ProbeAmount decimal.Decimal
}

// PoolConfig configures a polled venue.
type PoolConfig struct {
	Venue        string
	Pools        []PoolSpec
	PollInterval time.Duration
	CallTimeout  time.Duration
	Retry        retry.Policy
}

type poolState struct {
	info      *domain.PoolInfo
	lastBlock uint64
	healthy   bool
	// misconfig is set once when the configured base token is not part of
	// the pair; the pool is never priced after that.
	misconfig error
}

// PoolSource polls each configured pair on a fixed interval.
type PoolSource struct {
	cfg     PoolConfig
	reader  PoolReader
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
	state   map[common.Address]*poolState
}

var _ Source = (*PoolSource)(nil)

// NewPoolSource creates a pool source. emitter may be nil.
func NewPoolSource(cfg PoolConfig, reader PoolReader, emitter Emitter, logger *slog.Logger) *PoolSource {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	st := make(map[common.Address]*poolState, len(cfg.Pools))
	for _, p := range cfg.Pools {
		st[p.Pair] = &poolState{}
	}
	return &PoolSource{
		cfg:     cfg,
		reader:  reader,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "pool_source"), slog.String("venue", cfg.Venue)),
		now:     time.Now,
		state:   st,
	}
}

func (s *PoolSource) Venue() string          { return s.cfg.Venue }
func (s *PoolSource) Kind() domain.VenueKind { return domain.VenueKindPool }

// Run polls until ctx is cancelled.
func (s *PoolSource) Run(ctx context.Context, out chan<- domain.PriceTick) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		s.PollOnce(ctx, out)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce reads every pool once and emits the resulting ticks.
func (s *PoolSource) PollOnce(ctx context.Context, out chan<- domain.PriceTick) {
	for _, spec := range s.cfg.Pools {
		if ctx.Err() != nil {
			return
		}
		symbol := domain.NormalizeSymbol(spec.Symbol)
		st := s.state[spec.Pair]

		tick, ok, err := s.poll(ctx, spec, symbol, st)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			st.healthy = false
			s.logger.Warn("pool poll failed",
				slog.String("symbol", symbol),
				slog.String("pair", spec.Pair.Hex()),
				slog.String("error", err.Error()),
			)
			s.emitter.Emit(health(domain.EventSourceDegraded, s.cfg.Venue, symbol, err.Error()))
			continue
		}
		if !ok {
			continue
		}
		if !st.healthy {
			st.healthy = true
			s.emitter.Emit(health(domain.EventSourceUp, s.cfg.Venue, symbol, ""))
		}
		if !send(ctx, out, tick) {
			return
		}
	}
}

func (s *PoolSource) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		return fn(cctx)
	}, nil)
}

func (s *PoolSource) poll(ctx context.Context, spec PoolSpec, symbol string, st *poolState) (domain.PriceTick, bool, error) {
	if st.misconfig != nil {
		return domain.PriceTick{}, false, st.misconfig
	}
	if st.info == nil {
		var info domain.PoolInfo
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			info, err = s.reader.PairInfo(ctx, spec.Pair)
			return err
		})
		if err != nil {
			return domain.PriceTick{}, false, fmt.Errorf("feed: pair info: %w", err)
		}
		if spec.BaseToken != info.Token0 && spec.BaseToken != info.Token1 {
			st.misconfig = fmt.Errorf("feed: base token %s is neither token of pair %s", spec.BaseToken.Hex(), spec.Pair.Hex())
			return domain.PriceTick{}, false, st.misconfig
		}
		st.info = &info
	}
	info := *st.info

	var res domain.Reserves
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.reader.Reserves(ctx, spec.Pair)
		return err
	})
	if err != nil {
		return domain.PriceTick{}, false, fmt.Errorf("feed: reserves: %w", err)
	}
	if res.Block < st.lastBlock {
		s.logger.Debug("dropping reserves from older block",
			slog.Uint64("block", res.Block),
			slog.Uint64("last_block", st.lastBlock),
		)
		return domain.PriceTick{}, false, nil
	}

	baseRes, quoteRes, baseDec, quoteDec, quoteToken := res.Reserve0, res.Reserve1, info.Decimals0, info.Decimals1, info.Token1
	if spec.BaseToken == info.Token1 {
		baseRes, quoteRes, baseDec, quoteDec, quoteToken = res.Reserve1, res.Reserve0, info.Decimals1, info.Decimals0, info.Token0
	}
	base := toDecimal(baseRes, baseDec)
	quote := toDecimal(quoteRes, quoteDec)
	if !base.IsPositive() || !quote.IsPositive() {
		s.logger.Debug("zero liquidity", slog.String("symbol", symbol), slog.String("pair", spec.Pair.Hex()))
		return domain.PriceTick{}, false, nil
	}
	price := quote.Div(base)

	if spec.Router != (common.Address{}) && spec.ProbeAmount.IsPositive() {
		amountIn := spec.ProbeAmount.Shift(int32(baseDec)).BigInt()
		var amounts []*big.Int
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			amounts, err = s.reader.AmountsOut(ctx, spec.Router, amountIn, []common.Address{spec.BaseToken, quoteToken})
			return err
		})
		if err != nil {
			return domain.PriceTick{}, false, fmt.Errorf("feed: amounts out: %w", err)
		}
		if len(amounts) == 2 && amounts[1].Sign() > 0 {
			price = toDecimal(amounts[1], quoteDec).Div(spec.ProbeAmount)
		}
	}

	st.lastBlock = res.Block
	return domain.PriceTick{
		VenueID:        s.cfg.Venue,
		Kind:           domain.VenueKindPool,
		Symbol:         symbol,
		Price:          price,
		LiquidityDepth: quote,
		ObservedAt:     s.now(),
		Sequence:       res.Block,
	}, true, nil
}

func toDecimal(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}
