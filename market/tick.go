package market

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNoPrice = errors.New("price not found")

// Quote is the latest known close for a symbol.
type Quote struct {
	Symbol string
	Time   time.Time
	Price  float64
}

// QuoteStore holds the latest Quote per symbol and is safe for concurrent use.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]Quote)}
}

func (qs *QuoteStore) Set(q Quote) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.quotes[q.Symbol] = q
}

// SetCandle records the close of c as the latest quote for symbol.
func (qs *QuoteStore) SetCandle(symbol string, c Candle) {
	qs.Set(Quote{Symbol: symbol, Time: c.Time, Price: c.Close})
}

func (qs *QuoteStore) Get(symbol string) (Quote, error) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	q, ok := qs.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	return q, nil
}
