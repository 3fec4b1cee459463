package obs

import (
	"time"

	"github.com/yanun0323/logs"
)

// Checkpoint names one latency milestone on the market-data-to-order path.
type Checkpoint uint8

const (
	CheckpointDataEnqueue Checkpoint = iota
	CheckpointDataDequeue
	CheckpointDataRaise
	CheckpointStrategyWithoutDecision
	CheckpointStrategyDecisionStart
	CheckpointStrategyDecisionStop
	CheckpointOrderSend
	CheckpointOrderSent
	CheckpointOrderReplyReceived
	CheckpointOrderReplyProcessed
	numCheckpoints
)

func (c Checkpoint) String() string {
	switch c {
	case CheckpointDataEnqueue:
		return "data_enqueue"
	case CheckpointDataDequeue:
		return "data_dequeue"
	case CheckpointDataRaise:
		return "data_raise"
	case CheckpointStrategyWithoutDecision:
		return "strategy_skip"
	case CheckpointStrategyDecisionStart:
		return "strategy_decision_start"
	case CheckpointStrategyDecisionStop:
		return "strategy_decision_stop"
	case CheckpointOrderSend:
		return "order_send"
	case CheckpointOrderSent:
		return "order_sent"
	case CheckpointOrderReplyReceived:
		return "order_reply_received"
	case CheckpointOrderReplyProcessed:
		return "order_reply_processed"
	default:
		return "unknown"
	}
}

// Milestones records checkpoint timestamps for one in-flight event, relative
// to the moment the event entered the pipeline. The zero value is inactive
// and every call on it is a no-op, so instrumentation can stay unconditional
// on the hot path.
type Milestones struct {
	start time.Time
	accum *Accum
}

// Active reports whether measurements are being collected.
func (m Milestones) Active() bool {
	return m.accum != nil
}

// Measure records the time elapsed since the event entered the pipeline.
func (m Milestones) Measure(cp Checkpoint) {
	if m.accum == nil {
		return
	}
	m.accum.add(cp, time.Since(m.start))
}

// Accum aggregates milestone samples across events.
type Accum struct {
	stats [numCheckpoints]LatencyStats
}

// NewAccum allocates an empty accumulator.
func NewAccum() *Accum {
	return &Accum{}
}

// Start opens a milestone record for a new in-flight event.
func (a *Accum) Start() Milestones {
	if a == nil {
		return Milestones{}
	}
	return Milestones{start: time.Now(), accum: a}
}

func (a *Accum) add(cp Checkpoint, d time.Duration) {
	if cp >= numCheckpoints {
		return
	}
	a.stats[cp].Observe(d)
}

// Stat returns the aggregated values for one checkpoint.
func (a *Accum) Stat(cp Checkpoint) LatencySnapshot {
	if a == nil || cp >= numCheckpoints {
		return LatencySnapshot{}
	}
	return a.stats[cp].Snapshot()
}

// Report dumps non-empty checkpoint stats to the log.
func (a *Accum) Report(name string) {
	if a == nil {
		return
	}
	for cp := Checkpoint(0); cp < numCheckpoints; cp++ {
		snapshot := a.stats[cp].Snapshot()
		if snapshot.Count == 0 {
			continue
		}
		logs.Infof("%s.%s: count=%d min=%s avg=%s max=%s",
			name, cp, snapshot.Count, snapshot.Min, snapshot.Avg, snapshot.Max)
	}
}
