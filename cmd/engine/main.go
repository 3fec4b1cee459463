// The engine binary runs the live paper-trading loop: a random market data
// walk feeds registered securities, a demo round-trip strategy opens and
// closes positions against fake venues, and closed positions are archived.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/archive"
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
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("load config, err: %+v", err)
		os.Exit(1)
	}
	if loaded.Settings.Replay || loaded.Feed.Kind == "journal" {
		logs.Errorf("config selects replay, use the replay binary")
		os.Exit(1)
	}

	if addr := loaded.Profile.ServerAddress; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "engine",
			ServerAddress:   addr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("start profiler, err: %+v", err)
			os.Exit(1)
		}
		defer func() { _ = profiler.Stop() }()
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(runCtx, loaded); err != nil {
		logs.Errorf("engine, err: %+v", err)
		os.Exit(1)
	}
}

func run(runCtx context.Context, loaded ops.Loaded) error {
	ctx := engine.NewContext(loaded.Settings)

	venues, err := connectVenues(ctx, loaded.Venues)
	if err != nil {
		return err
	}
	defer func() {
		for _, v := range venues {
			v.Close()
		}
	}()

	var reporter position.Reporter = logReporter{}
	if loaded.ArchiveDSN != "" {
		arc, err := newArchive(loaded.ArchiveDSN)
		if err != nil {
			return err
		}
		defer arc.Close()
		reporter = arc
	}

	var jw *journal.Writer
	if loaded.JournalRecord {
		jw, err = journal.NewWriter(loaded.Journal)
		if err != nil {
			return err
		}
		if err := jw.Start(runCtx); err != nil {
			return err
		}
		defer func() {
			if err := jw.Close(); err != nil {
				logs.Warnf("close journal, err: %+v", err)
			}
		}()
	}

	src := feed.NewRandomSource(ctx, randomConfig(loaded))
	if jw != nil {
		src = src.WithJournal(jw)
	}
	if _, err := ctx.RegisterSource(loaded.Feed.Kind, src); err != nil {
		return err
	}
	if err := src.Connect(); err != nil {
		return err
	}
	defer src.Close()

	var riskCheck risk.Checker
	if loaded.Risk != nil {
		riskCheck = risk.NewEngine(*loaded.Risk)
	}

	for _, spec := range loaded.Symbols {
		sec, err := src.CreateSecurity(ctx, spec.Symbol, spec.Scale)
		if err != nil {
			return err
		}
		st := &roundTripStrategy{
			ctx:      ctx,
			sys:      venues[0],
			risk:     riskCheck,
			reporter: reporter,
			qty:      1,
			exitMove: exitMove(spec),
			every:    20,
		}
		runner := strategy.NewRunner(ctx, st)
		sec.Subscribe(runner, security.Requirements{Trades: true, Book: true})
	}

	if err := src.SubscribeToSecurities(); err != nil {
		return err
	}
	logs.Infof("engine started, symbols: %d, venues: %d", len(loaded.Symbols), len(loaded.Venues))

	<-runCtx.Done()
	logs.Info("engine stopping")
	ctx.ReportLatency()
	return nil
}

func connectVenues(ctx *engine.Context, specs []ops.VenueSpec) ([]*fake.System, error) {
	venues := make([]*fake.System, 0, len(specs))
	for _, spec := range specs {
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
		venues = append(venues, venue)
	}
	return venues, nil
}

func newArchive(dsn string) (*archive.Archive, error) {
	client, err := conn.New(conn.Option{ConnString: dsn})
	if err != nil {
		return nil, err
	}
	return archive.New(client, 0)
}

func randomConfig(loaded ops.Loaded) feed.RandomConfig {
	basePrices := make(map[string]model.Price, len(loaded.Symbols))
	for _, spec := range loaded.Symbols {
		if spec.BasePrice > 0 {
			basePrices[spec.Symbol.Key()] = spec.BasePrice
		}
	}
	return feed.RandomConfig{
		Interval:   loaded.Feed.Interval,
		Seed:       loaded.Feed.Seed,
		MaxQty:     loaded.Feed.MaxQty,
		BasePrices: basePrices,
	}
}

// exitMove is the price distance that closes a round trip, one part in a
// thousand of the base price with a floor of one tick.
func exitMove(spec ops.SymbolSpec) model.Price {
	move := spec.BasePrice / 1000
	if move < 1 {
		move = 1
	}
	return move
}

// logReporter stands in for the archive when no DSN is configured.
type logReporter struct{}

func (logReporter) ReportClosed(s position.Snapshot) {
	logs.Infof("position closed, symbol: %s, side: %s, state: %s, pnl: %d",
		s.Symbol, s.Side, s.State, s.PnL)
}

// roundTripStrategy opens one market position every N trades and closes it
// once the last price has moved exitMove away from the open price. It is a
// smoke strategy: the point is exercising the order, risk and archive paths
// against live market data. Position state is polled on the next trade, so
// the position pointer is only ever touched under the runner's decision
// lock.
type roundTripStrategy struct {
	ctx      *engine.Context
	sys      trade.System
	risk     risk.Checker
	reporter position.Reporter
	qty      model.Quantity
	exitMove model.Price
	every    int

	trades int
	pos    *position.Position
}

func (s *roundTripStrategy) OnTrade(sec *security.Security) {
	if !s.ctx.Settings().InSession(s.ctx.Now()) {
		return
	}
	if s.pos != nil {
		if !s.pos.State().IsFinal() {
			s.maybeClose(sec)
			return
		}
		s.pos = nil
	}

	s.trades++
	if s.trades%s.every != 0 {
		return
	}
	pos, err := position.New(position.Config{
		Security: sec,
		System:   s.sys,
		Side:     enum.PositionSideLong,
		Qty:      s.qty,
		Currency: sec.Symbol().Currency(),
		Risk:     s.risk,
		Now:      s.ctx.Now,
		Reporter: s.reporter,
	})
	if err != nil {
		logs.Errorf("create position, err: %+v", err)
		return
	}
	if err := pos.OpenAtMarket(); err != nil {
		logs.Warnf("open position, symbol: %s, err: %+v", sec.Symbol(), err)
		return
	}
	s.pos = pos
}

func (s *roundTripStrategy) maybeClose(sec *security.Security) {
	if s.pos.State() != enum.PositionStateOpen {
		return
	}
	last, err := sec.LastPrice()
	if err != nil {
		return
	}
	entry := s.pos.OpenVWAP()
	move := last - entry
	if move < 0 {
		move = -move
	}
	if move < s.exitMove {
		return
	}
	if err := s.pos.CloseAtMarket(); err != nil {
		logs.Warnf("close position, symbol: %s, err: %+v", sec.Symbol(), err)
	}
}

func (s *roundTripStrategy) OnBookUpdate(*security.Security) {}

func (s *roundTripStrategy) OnPositionUpdate(*position.Position) {}
