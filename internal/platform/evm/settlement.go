package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// TxSigner signs transactions for one chain.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// SymbolTokens maps a canonical symbol to its on-chain tokens.
type SymbolTokens struct {
	Base          common.Address
	Quote         common.Address
	QuoteDecimals uint8
}

// SettlementConfig configures the executor contract call.
type SettlementConfig struct {
	Contract     common.Address
	Routers      map[string]common.Address // by venue id
	Tokens       map[string]SymbolTokens   // by canonical symbol
	PollInterval time.Duration
}

// Settlement submits executeArbitrage transactions and tracks receipts.
type Settlement struct {
	cfg     SettlementConfig
	backend Backend
	signer  TxSigner
	logger  *slog.Logger

	// nonceMu guards nonce assignment and pending.
	nonceMu sync.Mutex
	pending map[string]pendingTx

	mu   sync.Mutex
	sent map[common.Hash]sentTx
}

type sentTx struct {
	ref           [32]byte
	quoteDecimals uint8
}

// pendingTx is a signed transaction whose broadcast has not been
// acknowledged yet. Retries resend exactly these bytes.
type pendingTx struct {
	tx       *types.Transaction
	signedAt time.Time
}

// pendingTTL bounds how long an unacknowledged signed transaction is kept
// for rebroadcast.
const pendingTTL = 10 * time.Minute

// NewSettlement creates a settlement submitter.
func NewSettlement(cfg SettlementConfig, backend Backend, signer TxSigner, logger *slog.Logger) *Settlement {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Settlement{
		cfg:     cfg,
		backend: backend,
		signer:  signer,
		logger:  logger.With(slog.String("component", "evm_settlement")),
		pending: make(map[string]pendingTx),
		sent:    make(map[common.Hash]sentTx),
	}
}

// EncodeExecute packs the executeArbitrage calldata for req.
func (s *Settlement) EncodeExecute(req domain.ExecutionRequest) ([]byte, uint8, error) {
	tokens, ok := s.cfg.Tokens[req.Symbol]
	if !ok {
		return nil, 0, fmt.Errorf("evm: no token mapping for %s: %w", req.Symbol, domain.ErrNotFound)
	}
	amountIn := req.TradeSize.Shift(int32(tokens.QuoteDecimals)).BigInt()
	minProfit := req.MinNetOutput.Shift(int32(tokens.QuoteDecimals)).BigInt()
	if minProfit.Sign() < 0 {
		minProfit = new(big.Int)
	}
	data, err := settlementABI.Pack("executeArbitrage",
		req.Key.Bytes32(),
		venueID(req.BuyVenue),
		venueID(req.SellVenue),
		s.cfg.Routers[req.BuyVenue],
		s.cfg.Routers[req.SellVenue],
		tokens.Base,
		tokens.Quote,
		amountIn,
		minProfit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("evm: pack executeArbitrage: %w", err)
	}
	return data, tokens.QuoteDecimals, nil
}

// Submit signs and broadcasts an EIP-1559 transaction. The returned handle
// is the transaction hash.
//
// Submit is idempotent per req.ExecutionID: once a transaction is signed for
// an execution, every later call rebroadcasts the same signed bytes until the
// node acknowledges it, so a lost response never leads to a second
// transaction at the next nonce.
func (s *Settlement) Submit(ctx context.Context, req domain.ExecutionRequest) (domain.SubmissionHandle, error) {
	data, quoteDecimals, err := s.EncodeExecute(req)
	if err != nil {
		return "", err
	}

	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	s.prunePending(time.Now())

	id := submissionID(req)
	p, resend := s.pending[id]
	if !resend {
		tx, err := s.sign(ctx, req, data)
		if err != nil {
			return "", err
		}
		p = pendingTx{tx: tx, signedAt: time.Now()}
		s.pending[id] = p
	}
	if err := s.broadcast(ctx, id, p.tx); err != nil {
		return "", err
	}
	delete(s.pending, id)

	hash := p.tx.Hash()
	s.mu.Lock()
	s.sent[hash] = sentTx{ref: req.Key.Bytes32(), quoteDecimals: quoteDecimals}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "settlement submitted",
		slog.String("tx", hash.Hex()),
		slog.Uint64("nonce", p.tx.Nonce()),
		slog.String("key", req.Key.String()),
		slog.Bool("rebroadcast", resend),
	)
	return domain.SubmissionHandle(hash.Hex()), nil
}

func (s *Settlement) sign(ctx context.Context, req domain.ExecutionRequest, data []byte) (*types.Transaction, error) {
	nonce, err := s.backend.PendingNonceAt(ctx, s.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("evm: nonce: %w", err)
	}
	to := s.cfg.Contract
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: req.Params.GasTipCap,
		GasFeeCap: req.Params.GasFeeCap,
		Gas:       req.Params.GasLimit,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	return s.signer.SignTx(tx)
}

// broadcast sends tx and reports nil once the node holds it. A "nonce too
// low" answer means either tx itself was already included or another
// transaction took its nonce; only the latter discards the signed tx.
func (s *Settlement) broadcast(ctx context.Context, id string, tx *types.Transaction) error {
	err := s.backend.SendTransaction(ctx, tx)
	switch {
	case err == nil, isAlreadyKnown(err):
		return nil
	case !isNonceTooLow(err):
		return fmt.Errorf("evm: send: %w", err)
	}

	_, _, lerr := s.backend.TransactionByHash(ctx, tx.Hash())
	switch {
	case lerr == nil:
		return nil
	case errors.Is(lerr, ethereum.NotFound):
		delete(s.pending, id)
		return fmt.Errorf("evm: send: nonce %d used by another transaction: %w", tx.Nonce(), err)
	default:
		return fmt.Errorf("evm: send: lookup %s: %w", tx.Hash().Hex(), lerr)
	}
}

func (s *Settlement) prunePending(now time.Time) {
	for id, p := range s.pending {
		if now.Sub(p.signedAt) > pendingTTL {
			delete(s.pending, id)
		}
	}
}

func submissionID(req domain.ExecutionRequest) string {
	return req.Key.String() + "/" + req.ExecutionID
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// AwaitOutcome polls for the receipt until it arrives or ctx is done.
func (s *Settlement) AwaitOutcome(ctx context.Context, handle domain.SubmissionHandle) (domain.Outcome, error) {
	hash := common.HexToHash(string(handle))
	s.mu.Lock()
	meta, ok := s.sent[hash]
	delete(s.sent, hash)
	s.mu.Unlock()
	if !ok {
		return domain.Outcome{}, fmt.Errorf("evm: await %s: %w", handle, domain.ErrNotFound)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return s.outcome(ctx, hash, receipt, meta), nil
		case !errors.Is(err, ethereum.NotFound):
			s.logger.WarnContext(ctx, "receipt lookup failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Settlement) outcome(ctx context.Context, hash common.Hash, receipt *types.Receipt, meta sentTx) domain.Outcome {
	if receipt.Status == types.ReceiptStatusSuccessful {
		profit := ProfitFromLogs(receipt.Logs, meta.ref)
		return domain.Outcome{
			Kind:           domain.OutcomeConfirmed,
			RealizedProfit: decimal.NewFromBigInt(profit, -int32(meta.quoteDecimals)),
		}
	}
	return domain.Outcome{Kind: domain.OutcomeReverted, Reason: s.revertReason(ctx, hash, receipt)}
}

// revertReason replays the failed transaction as a call at its block to
// recover the revert message.
func (s *Settlement) revertReason(ctx context.Context, hash common.Hash, receipt *types.Receipt) string {
	tx, _, err := s.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return "reverted"
	}
	msg := ethereum.CallMsg{
		From:      s.signer.Address(),
		To:        tx.To(),
		Gas:       tx.Gas(),
		GasFeeCap: tx.GasFeeCap(),
		GasTipCap: tx.GasTipCap(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	}
	_, err = s.backend.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return "reverted"
	}
	return DecodeRevert(err)
}

// DecodeRevert extracts a human-readable reason from a call error carrying
// revert data.
func DecodeRevert(err error) string {
	var de rpc.DataError
	if errors.As(err, &de) {
		if hexData, ok := de.ErrorData().(string); ok {
			raw, derr := hex.DecodeString(strings.TrimPrefix(hexData, "0x"))
			if derr == nil {
				if reason, uerr := abi.UnpackRevert(raw); uerr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

// ProfitFromLogs returns the profit of the ArbitrageExecuted event for ref,
// or zero when none is present.
func ProfitFromLogs(logs []*types.Log, ref [32]byte) *big.Int {
	ev := settlementABI.Events["ArbitrageExecuted"]
	for _, l := range logs {
		if len(l.Topics) < 2 || l.Topics[0] != ev.ID || l.Topics[1] != common.Hash(ref) {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(vals) != 1 {
			continue
		}
		if p, ok := vals[0].(*big.Int); ok {
			return p
		}
	}
	return new(big.Int)
}

func venueID(venue string) [32]byte {
	var b [32]byte
	copy(b[:], venue)
	return b
}
