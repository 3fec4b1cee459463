package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/engine"
	"main/internal/journal"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/security"
	"main/internal/trade"
	"main/internal/trade/fake"
)

func testSymbol(t *testing.T) model.Symbol {
	t.Helper()
	symbol, err := model.NewCrypto("BTC-USD", "SIM", "USD")
	require.NoError(t, err)
	return symbol
}

var testScale = model.ScaleSpec{PriceScale: 2, QuantityScale: 0}

func TestRandomSourceWalk(t *testing.T) {
	newSource := func() (*RandomSource, *security.Security) {
		ctx := engine.NewContext(engine.Settings{})
		src := NewRandomSource(ctx, RandomConfig{Seed: 11, DefaultBasePrice: 10000})
		require.NoError(t, src.Connect())
		sec, err := src.CreateSecurity(ctx, testSymbol(t), testScale)
		require.NoError(t, err)
		return src, sec
	}

	a, secA := newSource()
	b, secB := newSource()
	for i := 0; i < 20; i++ {
		a.tick()
		b.tick()
	}

	lastA, err := secA.LastTrade()
	require.NoError(t, err)
	lastB, err := secB.LastTrade()
	require.NoError(t, err)
	// same seed, same walk
	assert.Equal(t, lastA.Price, lastB.Price)
	assert.Equal(t, lastA.Side, lastB.Side)

	bid, err := secA.Bid()
	require.NoError(t, err)
	ask, err := secA.Ask()
	require.NoError(t, err)
	assert.Less(t, bid.Price, ask.Price)
}

func TestRandomSourceRequiresSecurities(t *testing.T) {
	ctx := engine.NewContext(engine.Settings{})
	src := NewRandomSource(ctx, RandomConfig{Seed: 1})
	require.NoError(t, src.Connect())
	assert.Error(t, src.SubscribeToSecurities())
}

func writeTestJournal(t *testing.T, dir string) {
	t.Helper()
	w, err := journal.NewWriter(journal.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	t0 := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	price := model.Price(10000)
	for i := 0; i < 20; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		if i%3 == 0 {
			price += 5
		} else {
			price -= 2
		}
		require.NoError(t, w.AppendBook(ts, "BTC-USD",
			[]security.Level{{Price: price - 1, Qty: 50}},
			[]security.Level{{Price: price + 1, Qty: 50}},
		))
		require.NoError(t, w.AppendTrade(ts, "BTC-USD", enum.OrderSideBuy, price, 3))
	}
	require.NoError(t, w.Close())
}

// replayStrategy buys at market on every fifth trade and logs everything it
// observes, including the replay clock value at each event.
type replayStrategy struct {
	ctx    *engine.Context
	venue  trade.System
	sec    *security.Security
	trades int
	log    []string
}

func (s *replayStrategy) OnTrade(sec *security.Security) {
	last, err := sec.LastTrade()
	if err != nil {
		s.log = append(s.log, fmt.Sprintf("trade err %v", err))
		return
	}
	s.trades++
	s.log = append(s.log, fmt.Sprintf("trade %d@%d now=%d", last.Qty, last.Price, s.ctx.Now().UnixNano()))
	if s.trades%5 == 0 {
		_, err := s.venue.BuyAtMarket(sec, "USD", 1, trade.OrderParams{}, func(u trade.Update) {
			s.log = append(s.log, fmt.Sprintf("order %d %s %d@%d now=%d",
				u.OrderID, u.Status, u.FilledQty, u.TradePrice, s.ctx.Now().UnixNano()))
		})
		if err != nil {
			s.log = append(s.log, fmt.Sprintf("submit err %v", err))
		}
	}
}

func (s *replayStrategy) OnBookUpdate(sec *security.Security) {
	bid, err := sec.Bid()
	if err != nil {
		return
	}
	s.log = append(s.log, fmt.Sprintf("book %d now=%d", bid.Price, s.ctx.Now().UnixNano()))
}

func runReplay(t *testing.T, dir string) []string {
	t.Helper()
	ctx := engine.NewContext(engine.Settings{Replay: true})
	src, err := NewJournalSource(ctx, journal.PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, src.Connect())
	sec, err := src.CreateSecurity(ctx, testSymbol(t), testScale)
	require.NoError(t, err)
	require.NoError(t, src.SubscribeToSecurities())

	gen, err := fake.NewDelayGenerator(fake.DelayConfig{
		Execution: fake.DelayRange{Min: 5 * time.Millisecond, Max: 40 * time.Millisecond},
		Report:    fake.DelayRange{Min: time.Millisecond, Max: 5 * time.Millisecond},
		Seed:      99,
	})
	require.NoError(t, err)
	venue := fake.New(ctx, gen)
	require.NoError(t, venue.Connect(trade.ConnectConfig{Tag: "sim"}))
	t.Cleanup(venue.Close)

	s := &replayStrategy{ctx: ctx, venue: venue, sec: sec}
	sec.Subscribe(s, security.Requirements{Trades: true, Book: true})

	require.NoError(t, src.Run(context.Background()))
	return s.log
}

// Two replays of the same journal with the same seeds produce identical
// event sequences, fills included.
func TestReplayIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeTestJournal(t, dir)

	first := runReplay(t, dir)
	second := runReplay(t, dir)

	require.NotEmpty(t, first)
	assert.Contains(t, fmt.Sprint(first), "order")
	assert.Equal(t, first, second)
}

func TestReplayRecordsDataMilestones(t *testing.T) {
	dir := t.TempDir()
	writeTestJournal(t, dir)

	ctx := engine.NewContext(engine.Settings{Replay: true})
	src, err := NewJournalSource(ctx, journal.PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, src.Connect())
	_, err = src.CreateSecurity(ctx, testSymbol(t), testScale)
	require.NoError(t, err)
	require.NoError(t, src.SubscribeToSecurities())
	require.NoError(t, src.Run(context.Background()))

	// 20 books + 20 trades, each measured at enqueue, dequeue and raise
	checkpoints := []obs.Checkpoint{
		obs.CheckpointDataEnqueue,
		obs.CheckpointDataDequeue,
		obs.CheckpointDataRaise,
	}
	for _, cp := range checkpoints {
		assert.EqualValues(t, 40, ctx.DataLatency().Stat(cp).Count, cp.String())
	}
}
