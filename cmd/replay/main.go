// The replay binary re-runs a recorded market data journal against the fake
// venue under the replay clock. Two runs over the same journal produce the
// same fills, the same timestamps and the same log, which makes it the tool
// for debugging a live session offline.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/yanun0323/logs"

	"main/internal/engine"
	"main/internal/feed"
	"main/internal/journal"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/ops"
	"main/internal/position"
	"main/internal/risk"
	"main/internal/security"
	"main/internal/strategy"
	"main/internal/trade"
	"main/internal/trade/fake"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	dir := flag.String("dir", "", "Journal directory (overrides feed.dir)")
	speed := flag.Float64("speed", 0, "Pacing speed (1=recorded pace, 0=as fast as possible)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("load config, err: %+v", err)
		os.Exit(1)
	}
	loaded.Settings.Replay = true
	if *dir != "" {
		loaded.Feed.Dir = *dir
	}
	if loaded.Feed.Dir == "" {
		logs.Errorf("no journal directory, set feed.dir or -dir")
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(runCtx, loaded, *speed); err != nil {
		logs.Errorf("replay, err: %+v", err)
		os.Exit(1)
	}
}

func run(runCtx context.Context, loaded ops.Loaded, speed float64) error {
	ctx := engine.NewContext(loaded.Settings)

	venue, err := connectVenue(ctx, loaded.Venues[0])
	if err != nil {
		return err
	}
	defer venue.Close()

	var riskCheck risk.Checker
	if loaded.Risk != nil {
		riskCheck = risk.NewEngine(*loaded.Risk)
	}

	src, err := feed.NewJournalSource(ctx, journal.PlaybackConfig{
		Dir:   loaded.Feed.Dir,
		Speed: speed,
	})
	if err != nil {
		return err
	}
	if _, err := ctx.RegisterSource("journal", src); err != nil {
		return err
	}
	if err := src.Connect(); err != nil {
		return err
	}

	probes := make([]*probeStrategy, 0, len(loaded.Symbols))
	for _, spec := range loaded.Symbols {
		sec, err := src.CreateSecurity(ctx, spec.Symbol, spec.Scale)
		if err != nil {
			return err
		}
		probe := &probeStrategy{ctx: ctx, sys: venue, risk: riskCheck}
		runner := strategy.NewRunner(ctx, probe)
		sec.Subscribe(runner, security.Requirements{Trades: true, Book: true})
		probes = append(probes, probe)
	}
	if err := src.SubscribeToSecurities(); err != nil {
		return err
	}

	logs.Infof("replay started, dir: %s, symbols: %d", loaded.Feed.Dir, len(loaded.Symbols))
	if err := src.Run(runCtx); err != nil {
		return err
	}

	var pnl model.Notional
	for _, probe := range probes {
		pnl += probe.realized
	}
	logs.Infof("replay finished, realized pnl: %d", pnl)
	ctx.ReportLatency()
	return nil
}

func connectVenue(ctx *engine.Context, spec ops.VenueSpec) (*fake.System, error) {
	gen, err := fake.NewDelayGenerator(spec.Delay)
	if err != nil {
		return nil, err
	}
	venue := fake.New(ctx, gen)
	if _, err := ctx.RegisterTradeSystem(spec.Name, venue); err != nil {
		return nil, err
	}
	if err := venue.Connect(trade.ConnectConfig{Tag: spec.Name}); err != nil {
		return nil, err
	}
	return venue, nil
}

// probeStrategy opens a one-lot long at market on every 50th trade and
// closes it on the next trade. Every event is logged with the replay
// timestamp, so diffing the logs of two runs verifies determinism. Replay
// runs the whole flow on one goroutine, so the probe's fields need no lock.
type probeStrategy struct {
	ctx  *engine.Context
	sys  trade.System
	risk risk.Checker

	trades   int
	pos      *position.Position
	realized model.Notional
}

func (p *probeStrategy) OnTrade(sec *security.Security) {
	p.trades++
	last, err := sec.LastPrice()
	if err != nil {
		return
	}
	logs.Debugf("trade, t: %d, symbol: %s, price: %d", p.ctx.Now().UnixNano(), sec.Symbol(), last)

	if p.pos != nil && !p.pos.State().IsFinal() {
		if p.pos.State() == enum.PositionStateOpen {
			if err := p.pos.CloseAtMarket(); err != nil {
				logs.Warnf("close, symbol: %s, err: %+v", sec.Symbol(), err)
			}
		}
		return
	}
	if p.trades%50 != 0 {
		return
	}

	pos, err := position.New(position.Config{
		Security: sec,
		System:   p.sys,
		Side:     enum.PositionSideLong,
		Qty:      1,
		Currency: sec.Symbol().Currency(),
		Risk:     p.risk,
		Now:      p.ctx.Now,
	})
	if err != nil {
		logs.Errorf("create position, err: %+v", err)
		return
	}
	pos.Subscribe(p.onPositionChange)
	if err := pos.OpenAtMarket(); err != nil {
		logs.Warnf("open, symbol: %s, err: %+v", sec.Symbol(), err)
		return
	}
	p.pos = pos
}

func (p *probeStrategy) OnBookUpdate(*security.Security) {}

func (p *probeStrategy) OnPositionUpdate(*position.Position) {}

func (p *probeStrategy) onPositionChange(pos *position.Position) {
	logs.Infof("position, t: %d, symbol: %s, state: %s, opened: %d, closed: %d, pnl: %d",
		p.ctx.Now().UnixNano(), pos.Security().Symbol(), pos.State(), pos.Opened(), pos.Closed(), pos.RealizedPnL())
	if pos.State().IsFinal() && p.pos == pos {
		p.realized += pos.RealizedPnL()
		p.pos = nil
	}
}
