package signal

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Board holds the latest pushed signal per symbol. Signals older than
// maxAge read as HOLD; a zero maxAge keeps them forever.
type Board struct {
	mu     sync.RWMutex
	latest map[string]Signal
	maxAge time.Duration
	now    func() time.Time
}

var _ Source = (*Board)(nil)

func NewBoard(maxAge time.Duration) *Board {
	return &Board{
		latest: make(map[string]Signal),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Post validates s and makes it the current signal for its symbol.
func (b *Board) Post(s Signal) (Signal, error) {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	a, err := ParseAction(string(s.Action))
	if err == nil {
		s.Action = a
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	if s.GeneratedAt.IsZero() {
		s.GeneratedAt = b.now()
	}

	b.mu.Lock()
	b.latest[s.Symbol] = s
	b.mu.Unlock()
	return s, nil
}

func (b *Board) GetSignal(ctx context.Context, symbol, timeframe string) (Signal, error) {
	now := b.now()

	b.mu.RLock()
	s, ok := b.latest[symbol]
	b.mu.RUnlock()

	if !ok || (b.maxAge > 0 && now.Sub(s.GeneratedAt) > b.maxAge) {
		return HoldFor(symbol, now), nil
	}
	return s, nil
}

// Latest returns every held signal, stale ones included, sorted by symbol.
func (b *Board) Latest() []Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Signal, 0, len(b.latest))
	for _, s := range b.latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
