package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/retry"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// defaultPongWait is the time allowed to read the next message or pong.
	defaultPongWait = 60 * time.Second

	defaultHandshakeTimeout = 15 * time.Second
)

// StreamConfig configures a websocket venue.
type StreamConfig struct {
	Venue   string
	URL     string
	Codec   Codec
	Symbols []string
	// Instruments overrides the codec's symbol mapping per canonical symbol.
	Instruments      map[string]string
	Retry            retry.Policy
	HandshakeTimeout time.Duration
	PongWait         time.Duration
}

// StreamSource keeps one websocket per configured symbol. Connections fail
// and recover independently.
type StreamSource struct {
	cfg     StreamConfig
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
}

var _ Source = (*StreamSource)(nil)

// NewStreamSource creates a stream source. emitter may be nil.
func NewStreamSource(cfg StreamConfig, emitter Emitter, logger *slog.Logger) *StreamSource {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &StreamSource{
		cfg:     cfg,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "stream_source"), slog.String("venue", cfg.Venue)),
		now:     time.Now,
	}
}

func (s *StreamSource) Venue() string          { return s.cfg.Venue }
func (s *StreamSource) Kind() domain.VenueKind { return domain.VenueKindStream }

// Run starts one connection loop per symbol and blocks until all of them
// have stopped.
func (s *StreamSource) Run(ctx context.Context, out chan<- domain.PriceTick) error {
	if s.cfg.Codec == nil {
		return fmt.Errorf("feed: stream %s: no codec", s.cfg.Venue)
	}
	var wg sync.WaitGroup
	for _, sym := range s.cfg.Symbols {
		symbol := domain.NormalizeSymbol(sym)
		instrument := s.cfg.Instruments[symbol]
		if instrument == "" {
			instrument = s.cfg.Codec.Instrument(symbol)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runSymbol(ctx, symbol, instrument, out)
		}()
	}
	wg.Wait()
	return nil
}

// runSymbol reconnects with a fixed delay until the retry budget is spent,
// then marks the (venue, symbol) unavailable and stops.
func (s *StreamSource) runSymbol(ctx context.Context, symbol, instrument string, out chan<- domain.PriceTick) {
	log := s.logger.With(slog.String("symbol", symbol))
	budget := retry.NewBudget(s.cfg.Retry)
	for {
		err := s.session(ctx, symbol, instrument, out, budget)
		if ctx.Err() != nil {
			return
		}
		log.Warn("stream disconnected",
			slog.String("error", err.Error()),
			slog.Int("attempt", budget.Attempt()+1),
		)
		s.emitter.Emit(health(domain.EventSourceDegraded, s.cfg.Venue, symbol, err.Error()))
		if !budget.Wait(ctx) {
			if ctx.Err() != nil {
				return
			}
			log.Error("stream unavailable, giving up", slog.Int("attempts", budget.Attempt()))
			s.emitter.Emit(health(domain.EventSourceUnavailable, s.cfg.Venue, symbol, err.Error()))
			return
		}
	}
}

// session runs a single connection until it fails or ctx is cancelled.
func (s *StreamSource) session(ctx context.Context, symbol, instrument string, out chan<- domain.PriceTick, budget *retry.Budget) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	dctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	conn, _, err := dialer.DialContext(dctx, s.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", s.cfg.URL, err)
	}

	var writeMu sync.Mutex
	write := func(typ int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(typ, data)
	}

	sub, err := s.cfg.Codec.Subscribe(instrument)
	if err != nil {
		conn.Close()
		return fmt.Errorf("feed: subscribe %s: %w", instrument, err)
	}
	if err := write(websocket.TextMessage, sub); err != nil {
		conn.Close()
		return fmt.Errorf("feed: subscribe %s: %w", instrument, err)
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		pingPeriod := (s.cfg.PongWait * 9) / 10
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				conn.Close()
				return
			case <-ctx.Done():
				if unsub, err := s.cfg.Codec.Unsubscribe(instrument); err == nil {
					_ = write(websocket.TextMessage, unsub)
				}
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	var lastSeq uint64
	healthy := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		q, ok, err := s.cfg.Codec.Decode(data)
		if err != nil {
			s.logger.Debug("dropping malformed message", slog.String("error", err.Error()))
			continue
		}
		if !ok || !q.Valid() {
			continue
		}
		if q.Sequence != 0 && q.Sequence < lastSeq {
			continue
		}
		lastSeq = q.Sequence

		if !healthy {
			healthy = true
			budget.Reset()
			s.logger.Info("stream live", slog.String("symbol", symbol))
			s.emitter.Emit(health(domain.EventSourceUp, s.cfg.Venue, symbol, ""))
		}

		tick := domain.PriceTick{
			VenueID:        s.cfg.Venue,
			Kind:           domain.VenueKindStream,
			Symbol:         symbol,
			Price:          q.Mid(),
			LiquidityDepth: q.Depth(),
			ObservedAt:     s.now(),
			Sequence:       q.Sequence,
			Bid:            q.Bid,
			Ask:            q.Ask,
		}
		if !send(ctx, out, tick) {
			return ctx.Err()
		}
	}
}
