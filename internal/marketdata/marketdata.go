package marketdata

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no mark price is known for a
// (exchange, symbol) pair. Callers are expected to degrade gracefully.
var ErrPriceUnavailable = errors.New("mark price unavailable")

// Provider supplies current mark prices for unrealized PnL computation.
// Real exchange connectivity lives behind this interface.
type Provider interface {
	MarkPrice(exchange, symbol string) (decimal.Decimal, error)
}

// StaticProvider is a settable in-memory price source used by the server
// simulation and tests.
type StaticProvider struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticProvider creates an empty static price provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		prices: make(map[string]decimal.Decimal),
	}
}

// SetPrice records the current mark price for a symbol on an exchange.
func (p *StaticProvider) SetPrice(exchange, symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[exchange+":"+symbol] = price
}

// MarkPrice returns the last set price or ErrPriceUnavailable.
func (p *StaticProvider) MarkPrice(exchange, symbol string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	price, ok := p.prices[exchange+":"+symbol]
	if !ok {
		return decimal.Zero, ErrPriceUnavailable
	}
	return price, nil
}
