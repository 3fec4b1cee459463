// Package trade defines the abstract execution venue contract. A venue
// accepts order requests, returns an order identifier synchronously and
// reports fills and terminal outcomes asynchronously through a status
// callback on a goroutine the venue owns.
package trade

import (
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/security"
)

var (
	// ErrBadOrder marks a malformed request rejected synchronously at call
	// time: zero quantity, nil callback, missing limit price.
	ErrBadOrder = errors.New("malformed order request")
	// ErrNotConnected is returned by send operations before Connect.
	ErrNotConnected = errors.New("trade system not connected")
	// ErrNotSupported is returned by operations a venue cannot perform.
	// Venues never silently no-op.
	ErrNotSupported = errors.New("operation not supported by trade system")
	// ErrUnknownOrder is returned by cancel for an id the venue never issued.
	ErrUnknownOrder = errors.New("unknown order id")
)

// OrderID identifies one order within a trade system instance. Identifiers
// are strictly increasing per instance and never reused.
type OrderID uint64

// OrderParams carries routing hints for one order request.
type OrderParams struct {
	Account   string
	RouteHint string
}

// Update is one asynchronous order status report. FilledQty is the quantity
// filled by this event, RemainingQty what is still outstanding. After an
// update with a terminal status no further update follows for the same id.
type Update struct {
	OrderID      OrderID
	Status       enum.OrderStatus
	FilledQty    model.Quantity
	RemainingQty model.Quantity
	TradePrice   model.Price
}

// StatusUpdate delivers order status reports. It is invoked on a goroutine
// chosen by the venue implementation, not necessarily the sender's.
type StatusUpdate func(Update)

// ConnectConfig is the venue connection configuration.
type ConnectConfig struct {
	Tag    string
	Params map[string]string
}

// System is an execution venue. A send operation fails synchronously only
// for contract violations; venue-level rejections arrive through the status
// callback as a terminal status, never as an error from the send call.
type System interface {
	Connect(cfg ConnectConfig) error
	IsConnected() bool

	SellAtMarket(sec *security.Security, currency string, qty model.Quantity, params OrderParams, cb StatusUpdate) (OrderID, error)
	Sell(sec *security.Security, currency string, qty model.Quantity, price model.Price, params OrderParams, cb StatusUpdate) (OrderID, error)
	SellIOC(sec *security.Security, currency string, qty model.Quantity, price model.Price, params OrderParams, cb StatusUpdate) (OrderID, error)
	SellAtMarketWithStop(sec *security.Security, currency string, qty model.Quantity, stopPrice model.Price, params OrderParams, cb StatusUpdate) (OrderID, error)

	BuyAtMarket(sec *security.Security, currency string, qty model.Quantity, params OrderParams, cb StatusUpdate) (OrderID, error)
	Buy(sec *security.Security, currency string, qty model.Quantity, price model.Price, params OrderParams, cb StatusUpdate) (OrderID, error)
	BuyIOC(sec *security.Security, currency string, qty model.Quantity, price model.Price, params OrderParams, cb StatusUpdate) (OrderID, error)
	BuyAtMarketWithStop(sec *security.Security, currency string, qty model.Quantity, stopPrice model.Price, params OrderParams, cb StatusUpdate) (OrderID, error)

	// CancelOrder and CancelAllOrders are best-effort asynchronous requests.
	// A fill that raced ahead of the cancel still arrives as a terminal
	// Filled update and stands.
	CancelOrder(id OrderID) error
	CancelAllOrders(sec *security.Security) error
}

// ValidateRequest applies the synchronous contract checks shared by venue
// implementations.
func ValidateRequest(sec *security.Security, qty model.Quantity, price model.Price, requirePrice bool, cb StatusUpdate) error {
	if sec == nil {
		return errors.Wrap(ErrBadOrder, "security is nil")
	}
	if qty <= 0 {
		return errors.Wrap(ErrBadOrder, "qty must be > 0")
	}
	if cb == nil {
		return errors.Wrap(ErrBadOrder, "status callback is nil")
	}
	if requirePrice && price <= 0 {
		return errors.Wrap(ErrBadOrder, "limit price must be > 0")
	}
	return nil
}
