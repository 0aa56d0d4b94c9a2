// Package feed supplies closed bars to the trading loop.
package feed

import (
	"context"
	"errors"

	"github.com/rustyeddy/tradeguard/market"
)

// ErrDone is returned by a replay feed once a symbol has no more bars.
var ErrDone = errors.New("feed exhausted")

// Feed returns the closed bars for symbol that were not returned by a
// previous call, oldest first. An empty slice means nothing new has closed.
type Feed interface {
	Next(ctx context.Context, symbol string) ([]market.Candle, error)
}
