// Package ops loads and resolves the engine's JSON configuration. Loading
// fails fast: a config that parses but cannot be resolved into concrete
// runtime pieces is an error at startup, never at trade time.
package ops

import (
	"encoding/json"
	"os"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"main/internal/engine"
	"main/internal/journal"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/risk"
	"main/internal/trade/fake"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Replay  bool            `json:"replay"`
	Session SessionConfig   `json:"session"`
	Venues  []VenueConfig   `json:"venues"`
	Symbols []SymbolConfig  `json:"symbols"`
	Feed    FeedConfig      `json:"feed"`
	Risk    RiskConfig      `json:"risk"`
	Journal JournalFileConf `json:"journal"`
	Archive ArchiveConfig   `json:"archive"`
	Profile ProfileConfig   `json:"profile"`
}

// SessionConfig bounds the trading session, RFC3339. Empty means unbounded.
type SessionConfig struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// VenueConfig describes one fake venue entry.
type VenueConfig struct {
	Name             string  `json:"name"`
	ExecDelayMinMs   int64   `json:"execDelayMinMs"`
	ExecDelayMaxMs   int64   `json:"execDelayMaxMs"`
	ReportDelayMinMs int64   `json:"reportDelayMinMs"`
	ReportDelayMaxMs int64   `json:"reportDelayMaxMs"`
	Seed             int64   `json:"seed"`
	FillChance       float64 `json:"fillChance"`
}

// SymbolConfig describes one instrument. Prices are human-readable decimals
// converted to scaled integers at load.
type SymbolConfig struct {
	Code            string          `json:"code"`
	Type            string          `json:"type"`
	Exchange        string          `json:"exchange"`
	PrimaryExchange string          `json:"primaryExchange"`
	Currency        string          `json:"currency"`
	PriceScale      int             `json:"priceScale"`
	QuantityScale   int             `json:"quantityScale"`
	BasePrice       decimal.Decimal `json:"basePrice"`
	Strike          decimal.Decimal `json:"strike"`
	Right           string          `json:"right"`
	Expiry          string          `json:"expiry"`
}

// FeedConfig selects and tunes the market data source.
type FeedConfig struct {
	// Kind is "random" or "journal".
	Kind       string `json:"kind"`
	IntervalMs int64  `json:"intervalMs"`
	Seed       int64  `json:"seed"`
	MaxQty     int64  `json:"maxQty"`
	// Dir is the journal directory for the journal feed.
	Dir string `json:"dir"`
}

// RiskConfig holds pre-trade limits in scaled units.
type RiskConfig struct {
	Enabled            *bool `json:"enabled"`
	MaxOrderQty        int64 `json:"maxOrderQty"`
	MaxOrderNotional   int64 `json:"maxOrderNotional"`
	MaxPositionQty     int64 `json:"maxPositionQty"`
	MaxOrdersPerWindow int   `json:"maxOrdersPerWindow"`
	WindowMs           int64 `json:"windowMs"`
}

// JournalFileConf configures market data recording.
type JournalFileConf struct {
	Record          bool   `json:"record"`
	Dir             string `json:"dir"`
	SegmentMaxBytes int64  `json:"segmentMaxBytes"`
	QueueSize       int    `json:"queueSize"`
	FlushIntervalMs int64  `json:"flushIntervalMs"`
	SyncIntervalMs  int64  `json:"syncIntervalMs"`
}

// ArchiveConfig points at the closed-position database.
type ArchiveConfig struct {
	DSN string `json:"dsn"`
}

// ProfileConfig enables the continuous profiler.
type ProfileConfig struct {
	ServerAddress string `json:"serverAddress"`
}

// VenueSpec is a resolved venue.
type VenueSpec struct {
	Name  string
	Delay fake.DelayConfig
}

// SymbolSpec is a resolved instrument.
type SymbolSpec struct {
	Symbol    model.Symbol
	Scale     model.ScaleSpec
	BasePrice model.Price
}

// FeedSpec is the resolved feed selection.
type FeedSpec struct {
	Kind     string
	Interval time.Duration
	Seed     int64
	MaxQty   model.Quantity
	Dir      string
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	Settings engine.Settings
	Venues   []VenueSpec
	Symbols  []SymbolSpec
	Feed     FeedSpec
	// Risk is nil when disabled.
	Risk          *risk.Limits
	JournalRecord bool
	Journal       journal.Config
	ArchiveDSN    string
	Profile       ProfileConfig
}

// Load reads and resolves a JSON config file.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config")
	}
	return Resolve(cfg)
}

// Resolve turns a parsed FileConfig into runtime pieces.
func Resolve(cfg FileConfig) (Loaded, error) {
	settings, err := resolveSession(cfg)
	if err != nil {
		return Loaded{}, err
	}
	venues, err := resolveVenues(cfg.Venues)
	if err != nil {
		return Loaded{}, err
	}
	symbols, err := resolveSymbols(cfg.Symbols)
	if err != nil {
		return Loaded{}, err
	}
	feed, err := resolveFeed(cfg.Feed)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{
		Settings:      settings,
		Venues:        venues,
		Symbols:       symbols,
		Feed:          feed,
		Risk:          resolveRisk(cfg.Risk),
		JournalRecord: cfg.Journal.Record,
		ArchiveDSN:    cfg.Archive.DSN,
		Profile:       cfg.Profile,
	}
	if cfg.Journal.Record {
		if cfg.Journal.Dir == "" {
			return Loaded{}, errors.New("journal.dir is required when recording")
		}
		loaded.Journal = journal.Config{
			Dir:             cfg.Journal.Dir,
			SegmentMaxBytes: cfg.Journal.SegmentMaxBytes,
			QueueSize:       cfg.Journal.QueueSize,
			FlushInterval:   time.Duration(cfg.Journal.FlushIntervalMs) * time.Millisecond,
			SyncInterval:    time.Duration(cfg.Journal.SyncIntervalMs) * time.Millisecond,
		}
	}
	return loaded, nil
}

func resolveSession(cfg FileConfig) (engine.Settings, error) {
	settings := engine.Settings{Replay: cfg.Replay}
	if cfg.Session.Start != "" {
		start, err := time.Parse(time.RFC3339, cfg.Session.Start)
		if err != nil {
			return engine.Settings{}, errors.Wrap(err, "parse session.start")
		}
		settings.SessionStart = start
	}
	if cfg.Session.End != "" {
		end, err := time.Parse(time.RFC3339, cfg.Session.End)
		if err != nil {
			return engine.Settings{}, errors.Wrap(err, "parse session.end")
		}
		settings.SessionEnd = end
	}
	if !settings.SessionStart.IsZero() && !settings.SessionEnd.IsZero() &&
		settings.SessionEnd.Before(settings.SessionStart) {
		return engine.Settings{}, errors.New("session.end is before session.start")
	}
	return settings, nil
}

func resolveVenues(venues []VenueConfig) ([]VenueSpec, error) {
	if len(venues) == 0 {
		return nil, errors.New("at least one venue is required")
	}
	specs := make([]VenueSpec, 0, len(venues))
	seen := make(map[string]bool)
	for _, v := range venues {
		if v.Name == "" {
			return nil, errors.New("venue name is empty")
		}
		if seen[v.Name] {
			return nil, errors.Errorf("duplicate venue: %s", v.Name)
		}
		seen[v.Name] = true
		delay := fake.DelayConfig{
			Execution: fake.DelayRange{
				Min: time.Duration(v.ExecDelayMinMs) * time.Millisecond,
				Max: time.Duration(v.ExecDelayMaxMs) * time.Millisecond,
			},
			Report: fake.DelayRange{
				Min: time.Duration(v.ReportDelayMinMs) * time.Millisecond,
				Max: time.Duration(v.ReportDelayMaxMs) * time.Millisecond,
			},
			Seed:       v.Seed,
			FillChance: v.FillChance,
		}
		// surface bad ranges at load, not at first order
		if _, err := fake.NewDelayGenerator(delay); err != nil {
			return nil, errors.Wrapf(err, "venue %s", v.Name)
		}
		specs = append(specs, VenueSpec{Name: v.Name, Delay: delay})
	}
	return specs, nil
}

func resolveSymbols(symbols []SymbolConfig) ([]SymbolSpec, error) {
	if len(symbols) == 0 {
		return nil, errors.New("at least one symbol is required")
	}
	specs := make([]SymbolSpec, 0, len(symbols))
	for _, s := range symbols {
		spec, err := resolveSymbol(s)
		if err != nil {
			return nil, errors.Wrapf(err, "symbol %s", s.Code)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func resolveSymbol(s SymbolConfig) (SymbolSpec, error) {
	scale := model.ScaleSpec{PriceScale: s.PriceScale, QuantityScale: s.QuantityScale}
	if err := scale.Validate(); err != nil {
		return SymbolSpec{}, err
	}

	var symbol model.Symbol
	var err error
	switch s.Type {
	case "stock":
		symbol, err = model.NewStock(s.Code, s.Exchange, s.PrimaryExchange, s.Currency)
	case "fx":
		symbol, err = model.NewFx(s.Code, s.Exchange, s.Currency)
	case "crypto":
		symbol, err = model.NewCrypto(s.Code, s.Exchange, s.Currency)
	case "futures":
		expiry, perr := parseExpiry(s.Expiry)
		if perr != nil {
			return SymbolSpec{}, perr
		}
		symbol, err = model.NewFutures(s.Code, s.Exchange, s.Currency, expiry)
	case "option":
		expiry, perr := parseExpiry(s.Expiry)
		if perr != nil {
			return SymbolSpec{}, perr
		}
		strike, perr := model.ParsePrice(s.Strike.String(), s.PriceScale)
		if perr != nil {
			return SymbolSpec{}, errors.Wrap(perr, "parse strike")
		}
		right, perr := parseRight(s.Right)
		if perr != nil {
			return SymbolSpec{}, perr
		}
		symbol, err = model.NewOption(s.Code, s.Exchange, s.Currency, strike, right, expiry)
	default:
		return SymbolSpec{}, errors.Errorf("unknown symbol type: %q", s.Type)
	}
	if err != nil {
		return SymbolSpec{}, err
	}

	var basePrice model.Price
	if raw := s.BasePrice.String(); raw != "" && raw != "0" {
		basePrice, err = model.ParsePrice(raw, s.PriceScale)
		if err != nil {
			return SymbolSpec{}, errors.Wrap(err, "parse basePrice")
		}
	}
	return SymbolSpec{Symbol: symbol, Scale: scale, BasePrice: basePrice}, nil
}

func parseExpiry(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("expiry is required")
	}
	expiry, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse expiry")
	}
	return expiry, nil
}

func parseRight(s string) (enum.OptionRight, error) {
	switch s {
	case "call":
		return enum.OptionRightCall, nil
	case "put":
		return enum.OptionRightPut, nil
	default:
		return 0, errors.Errorf("unknown option right: %q", s)
	}
}

func resolveFeed(cfg FeedConfig) (FeedSpec, error) {
	spec := FeedSpec{
		Kind:     cfg.Kind,
		Interval: time.Duration(cfg.IntervalMs) * time.Millisecond,
		Seed:     cfg.Seed,
		MaxQty:   model.Quantity(cfg.MaxQty),
		Dir:      cfg.Dir,
	}
	switch cfg.Kind {
	case "", "random":
		spec.Kind = "random"
	case "journal":
		if cfg.Dir == "" {
			return FeedSpec{}, errors.New("feed.dir is required for the journal feed")
		}
	default:
		return FeedSpec{}, errors.Errorf("unknown feed kind: %q", cfg.Kind)
	}
	return spec, nil
}

func resolveRisk(cfg RiskConfig) *risk.Limits {
	if cfg.Enabled != nil && !*cfg.Enabled {
		return nil
	}
	if cfg.Enabled == nil && cfg.MaxOrderQty == 0 && cfg.MaxOrderNotional == 0 &&
		cfg.MaxPositionQty == 0 && cfg.MaxOrdersPerWindow == 0 {
		return nil
	}
	return &risk.Limits{
		MaxOrderQty:      model.Quantity(cfg.MaxOrderQty),
		MaxOrderNotional: model.Notional(cfg.MaxOrderNotional),
		MaxPositionQty:   model.Quantity(cfg.MaxPositionQty),
		MaxOrdersPer:     cfg.MaxOrdersPerWindow,
		Window:           time.Duration(cfg.WindowMs) * time.Millisecond,
	}
}
