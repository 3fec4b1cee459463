package fake

import (
	"math/rand"
	"sync"
	"time"

	"github.com/yanun0323/errors"
)

var ErrBadDelayRange = errors.New("delay range min must be >= 0 and <= max")

// DelayRange bounds a uniformly distributed delay.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

func (r DelayRange) validate() error {
	if r.Min < 0 || r.Min > r.Max {
		return errors.Wrapf(ErrBadDelayRange, "min: %s, max: %s", r.Min, r.Max)
	}
	return nil
}

// DelayConfig parameterizes the simulated venue latency.
type DelayConfig struct {
	Execution DelayRange
	Report    DelayRange
	// Seed makes the delay and fill-chance streams reproducible. Zero seeds
	// from the wall clock.
	Seed int64
	// FillChance is the probability a matched order actually executes in one
	// pass, in [0, 1]. Zero means always fill.
	FillChance float64
}

// DelayGenerator draws execution delays, report delays and fill decisions
// from a single seeded stream, so one seed fixes the whole schedule.
type DelayGenerator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	exec       DelayRange
	report     DelayRange
	fillChance float64
}

// NewDelayGenerator validates the ranges and builds a generator.
func NewDelayGenerator(cfg DelayConfig) (*DelayGenerator, error) {
	if err := cfg.Execution.validate(); err != nil {
		return nil, errors.Wrap(err, "execution delay")
	}
	if err := cfg.Report.validate(); err != nil {
		return nil, errors.Wrap(err, "report delay")
	}
	if cfg.FillChance < 0 || cfg.FillChance > 1 {
		return nil, errors.Wrapf(ErrBadDelayRange, "fill chance: %f", cfg.FillChance)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	fillChance := cfg.FillChance
	if fillChance == 0 {
		fillChance = 1
	}
	return &DelayGenerator{
		rng:        rand.New(rand.NewSource(seed)),
		exec:       cfg.Execution,
		report:     cfg.Report,
		fillChance: fillChance,
	}, nil
}

// ExecDelay draws one execution delay.
func (g *DelayGenerator) ExecDelay() time.Duration {
	return g.draw(g.exec)
}

// ReportDelay draws one report delay.
func (g *DelayGenerator) ReportDelay() time.Duration {
	return g.draw(g.report)
}

// ShouldFill draws one fill decision.
func (g *DelayGenerator) ShouldFill() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fillChance >= 1 {
		return true
	}
	return g.rng.Float64() < g.fillChance
}

func (g *DelayGenerator) draw(r DelayRange) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.Max == r.Min {
		return r.Min
	}
	return r.Min + time.Duration(g.rng.Int63n(int64(r.Max-r.Min)+1))
}
