// Package market provides current prices for traded symbols.
package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/internal/errs"
)

// PriceSource returns the latest traded price of a symbol.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// PriceStore keeps the last tick per symbol. Ticks older than maxAge are
// reported as stale; a zero maxAge never expires them.
type PriceStore struct {
	mu     sync.RWMutex
	ticks  map[string]Tick
	maxAge time.Duration
	now    func() time.Time
}

var _ PriceSource = (*PriceStore)(nil)

func NewPriceStore(maxAge time.Duration) *PriceStore {
	return &PriceStore{
		ticks:  make(map[string]Tick),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Set records t unless it is older than the tick already held.
func (ps *PriceStore) Set(t Tick) error {
	if t.Symbol == "" {
		return errs.Validationf("market.set", "symbol is required")
	}
	if t.Price <= 0 {
		return errs.Validationf("market.set", "price for %s must be positive, got %v", t.Symbol, t.Price)
	}
	if t.Time.IsZero() {
		t.Time = ps.now()
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if cur, ok := ps.ticks[t.Symbol]; ok && cur.Time.After(t.Time) {
		return nil
	}
	ps.ticks[t.Symbol] = t
	return nil
}

func (ps *PriceStore) Get(symbol string) (Tick, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	t, ok := ps.ticks[symbol]
	if !ok {
		return Tick{}, errs.E(errs.KindTransient, "market.get", "no price for "+symbol)
	}
	return t, nil
}

func (ps *PriceStore) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := ps.Get(symbol)
	if err != nil {
		return 0, err
	}
	if ps.maxAge > 0 {
		if age := ps.now().Sub(t.Time); age > ps.maxAge {
			return 0, errs.E(errs.KindTransient, "market.price",
				fmt.Sprintf("price for %s is stale (%s old)", symbol, age.Truncate(time.Millisecond)))
		}
	}
	return t.Price, nil
}

// Symbols returns the symbols with a recorded price, sorted.
func (ps *PriceStore) Symbols() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]string, 0, len(ps.ticks))
	for s := range ps.ticks {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Chain asks each source in turn and returns the first price found.
type Chain []PriceSource

func (c Chain) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if len(c) == 0 {
		return 0, errs.E(errs.KindFatal, "market.chain", "no price sources configured")
	}
	var all []error
	for _, src := range c {
		p, err := src.GetCurrentPrice(ctx, symbol)
		if err == nil {
			return p, nil
		}
		all = append(all, err)
		if ctx.Err() != nil {
			break
		}
	}
	return 0, errs.Wrap(errors.Join(all...), errs.KindTransient, "market.chain "+symbol)
}
