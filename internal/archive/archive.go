// Package archive persists closed positions to PostgreSQL. Reports are
// queued and written by a background worker, so position callbacks never
// block on the database.
package archive

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/position"
	"main/pkg/conn"
)

var ErrClosed = errors.New("archive closed")

// ClosedPosition is one archived position outcome.
type ClosedPosition struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	SymbolKey   string `gorm:"index"`
	Side        string
	State       string
	PlannedQty  int64
	OpenedQty   int64
	ClosedQty   int64
	OpenVolume  int64
	CloseVolume int64
	PnL         int64
	OpenedAt    time.Time
	ClosedAt    time.Time
	CreatedAt   time.Time
}

func (ClosedPosition) TableName() string { return "closed_positions" }

// Archive is a position.Reporter backed by PostgreSQL.
type Archive struct {
	client *conn.Client
	ch     chan position.Snapshot
	wg     sync.WaitGroup
	closed uint32
}

var _ position.Reporter = (*Archive)(nil)

// New migrates the table and starts the writer worker.
func New(client *conn.Client, queueSize int) (*Archive, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.New("archive requires a database client")
	}
	if err := client.DB().AutoMigrate(&ClosedPosition{}); err != nil {
		return nil, errors.Wrap(err, "migrate closed_positions")
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	a := &Archive{
		client: client,
		ch:     make(chan position.Snapshot, queueSize),
	}
	a.wg.Add(1)
	go a.run()
	return a, nil
}

// ReportClosed queues one final position snapshot without blocking. A full
// queue drops the report with a warning rather than stalling the caller.
func (a *Archive) ReportClosed(s position.Snapshot) {
	if atomic.LoadUint32(&a.closed) != 0 {
		return
	}
	select {
	case a.ch <- s:
	default:
		logs.Warnf("archive queue full, dropping report, symbol: %s", s.Symbol)
	}
}

// Close drains the queue and stops the worker.
func (a *Archive) Close() {
	if atomic.CompareAndSwapUint32(&a.closed, 0, 1) {
		close(a.ch)
	}
	a.wg.Wait()
}

func (a *Archive) run() {
	defer a.wg.Done()
	for s := range a.ch {
		row := toRow(s)
		if err := a.client.DB().Create(&row).Error; err != nil {
			logs.Errorf("archive closed position, err: %+v", err)
		}
	}
}

func toRow(s position.Snapshot) ClosedPosition {
	return ClosedPosition{
		SymbolKey:   s.Symbol.Key(),
		Side:        s.Side.String(),
		State:       s.State.String(),
		PlannedQty:  int64(s.Planned),
		OpenedQty:   int64(s.Opened),
		ClosedQty:   int64(s.Closed),
		OpenVolume:  int64(s.OpenVolume),
		CloseVolume: int64(s.CloseVolume),
		PnL:         int64(s.PnL),
		OpenedAt:    s.OpenedAt,
		ClosedAt:    s.ClosedAt,
	}
}
