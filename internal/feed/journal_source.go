package feed

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/engine"
	"main/internal/journal"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/security"
)

// JournalSource replays a recorded journal into its securities. In replay
// mode it drives the context clock: each record first advances the clock,
// which lets the venue execute orders due before the record, then the
// record is delivered and dispatching is synchronized.
type JournalSource struct {
	ctx      *engine.Context
	playback *journal.Playback

	mu        sync.Mutex
	secs      map[string]*security.Security
	connected bool
}

var _ Source = (*JournalSource)(nil)

// NewJournalSource validates the playback config and builds the source.
func NewJournalSource(ctx *engine.Context, cfg journal.PlaybackConfig) (*JournalSource, error) {
	playback, err := journal.NewPlayback(cfg)
	if err != nil {
		return nil, err
	}
	return &JournalSource{
		ctx:      ctx,
		playback: playback,
		secs:     make(map[string]*security.Security),
	}, nil
}

func (s *JournalSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// CreateSecurity creates and registers one replayed instrument.
func (s *JournalSource) CreateSecurity(ctx *engine.Context, symbol model.Symbol, scale model.ScaleSpec) (*security.Security, error) {
	sec, err := security.New(symbol, scale, "journal")
	if err != nil {
		return nil, err
	}
	if err := ctx.RegisterSecurity(sec); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.secs[symbol.Key()] = sec
	s.mu.Unlock()
	return sec, nil
}

// SubscribeToSecurities is a no-op: the flow is driven by Run.
func (s *JournalSource) SubscribeToSecurities() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("journal source not connected")
	}
	return nil
}

// Run replays the journal to completion. The caller's goroutine is the
// single writer for every security of this source.
func (s *JournalSource) Run(ctx context.Context) error {
	replay := s.ctx.Settings().Replay
	return s.playback.Run(ctx, func(h journal.Header, payload []byte) error {
		t := time.Unix(0, h.Time)
		if replay {
			if err := s.ctx.SetCurrentTime(t, true); err != nil {
				return errors.Wrap(err, "advance replay clock")
			}
		}
		if err := s.deliver(h, payload, t); err != nil {
			return err
		}
		if replay {
			s.ctx.SyncDispatching()
		}
		return nil
	})
}

func (s *JournalSource) deliver(h journal.Header, payload []byte, t time.Time) error {
	m := s.ctx.DataLatency().Start()
	m.Measure(obs.CheckpointDataEnqueue)
	switch h.Type {
	case journal.EventTrade:
		r, err := journal.DecodeTrade(payload)
		if err != nil {
			return err
		}
		sec := s.security(r.SymbolKey)
		if sec == nil {
			return nil
		}
		m.Measure(obs.CheckpointDataDequeue)
		if err := sec.UpdateTrade(t, r.Side, r.Price, r.Qty); err != nil {
			return errors.Wrap(err, "replay trade")
		}
		m.Measure(obs.CheckpointDataRaise)
	case journal.EventBook:
		r, err := journal.DecodeBook(payload)
		if err != nil {
			return err
		}
		sec := s.security(r.SymbolKey)
		if sec == nil {
			return nil
		}
		m.Measure(obs.CheckpointDataDequeue)
		if err := sec.UpdateBook(t, r.Bids, r.Asks); err != nil {
			return errors.Wrap(err, "replay book")
		}
		m.Measure(obs.CheckpointDataRaise)
	default:
		logs.Warnf("unknown journal event type: %d, seq: %d", h.Type, h.Seq)
	}
	return nil
}

func (s *JournalSource) security(key string) *security.Security {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secs[key]
}
