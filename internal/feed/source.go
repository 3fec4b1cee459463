// Package feed hosts the market data sources: the contract, a seeded
// random-walk generator for paper trading and a journal playback source for
// deterministic replay.
package feed

import (
	"main/internal/engine"
	"main/internal/model"
	"main/internal/security"
)

// Source is a market data source. CreateSecurity is called once per
// distinct symbol before SubscribeToSecurities starts the flow.
type Source interface {
	engine.MarketDataSource
	CreateSecurity(ctx *engine.Context, symbol model.Symbol, scale model.ScaleSpec) (*security.Security, error)
}
