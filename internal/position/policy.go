package position

import (
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/security"
	"main/internal/trade"
)

// OrderPolicy decides how a position turns an open or close decision into a
// venue order.
type OrderPolicy interface {
	// Price returns the limit price the policy would use, zero for market.
	Price() model.Price
	Submit(sys trade.System, sec *security.Security, currency string, side enum.OrderSide, qty model.Quantity, cb trade.StatusUpdate) (trade.OrderID, error)
}

// MarketPolicy sends market orders.
type MarketPolicy struct{}

func (MarketPolicy) Price() model.Price { return 0 }

func (MarketPolicy) Submit(sys trade.System, sec *security.Security, currency string, side enum.OrderSide, qty model.Quantity, cb trade.StatusUpdate) (trade.OrderID, error) {
	if side == enum.OrderSideBuy {
		return sys.BuyAtMarket(sec, currency, qty, trade.OrderParams{}, cb)
	}
	return sys.SellAtMarket(sec, currency, qty, trade.OrderParams{}, cb)
}

// LimitGTCPolicy sends good-till-cancel limit orders at a fixed price.
type LimitGTCPolicy struct {
	LimitPrice model.Price
}

func (p LimitGTCPolicy) Price() model.Price { return p.LimitPrice }

func (p LimitGTCPolicy) Submit(sys trade.System, sec *security.Security, currency string, side enum.OrderSide, qty model.Quantity, cb trade.StatusUpdate) (trade.OrderID, error) {
	if side == enum.OrderSideBuy {
		return sys.Buy(sec, currency, qty, p.LimitPrice, trade.OrderParams{}, cb)
	}
	return sys.Sell(sec, currency, qty, p.LimitPrice, trade.OrderParams{}, cb)
}
