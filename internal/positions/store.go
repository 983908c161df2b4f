// Package positions caches the wallet's token-account view and owns the
// persistent mint to entry-price mapping.
package positions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/chain"
	"github.com/ajitpratap0/solfunk/internal/errs"
	"github.com/ajitpratap0/solfunk/internal/metrics"
	"github.com/ajitpratap0/solfunk/internal/state"
)

const accountCacheTTL = 5 * time.Minute

// TokenSource reads token accounts. Satisfied by chain.Client.
type TokenSource interface {
	GetTokenBalances(ctx context.Context, owner solana.PublicKey) ([]chain.TokenBalance, error)
}

// Position is one non-zero token holding with its recorded entry price.
// EntryPrice is zero when the buy predates the store or was never recorded.
type Position struct {
	Mint       string  `json:"mint"`
	Amount     float64 `json:"amount"`
	RawAmount  string  `json:"raw_amount"`
	Decimals   uint8   `json:"decimals"`
	EntryPrice float64 `json:"entry_price,omitempty"`
}

// Store serves cached token positions and entry prices.
type Store struct {
	source TokenSource
	owner  solana.PublicKey
	path   string
	log    zerolog.Logger

	mu        sync.Mutex
	cached    []chain.TokenBalance
	fetchedAt time.Time
	entries   map[string]float64
	now       func() time.Time
}

// NewStore loads the entry-price file when present.
func NewStore(source TokenSource, owner solana.PublicKey, path string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		source:  source,
		owner:   owner,
		path:    path,
		entries: make(map[string]float64),
		now:     time.Now,
		log:     log.With().Str("component", "positions").Logger(),
	}
	if path != "" {
		if err := state.LoadJSON(path, &s.entries); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load entry prices: %w", err)
			}
			s.entries = make(map[string]float64)
		}
	}
	return s, nil
}

// Positions returns the wallet's non-zero token holdings. The chain view
// is cached for five minutes; when a refresh fails and a prior view
// exists, the stale view is served with a warning.
func (s *Store) Positions(ctx context.Context) ([]Position, error) {
	s.mu.Lock()
	fresh := s.cached != nil && s.now().Sub(s.fetchedAt) < accountCacheTTL
	view := s.cached
	s.mu.Unlock()

	if !fresh {
		balances, err := s.source.GetTokenBalances(ctx, s.owner)
		if err != nil {
			if view == nil {
				return nil, err
			}
			if errors.Is(err, errs.ErrBudgetExhausted) {
				s.log.Warn().Err(err).Msg("Budget denied token-account refresh, serving cached view")
			} else {
				s.log.Warn().Err(err).Msg("Token-account refresh failed, serving cached view")
			}
		} else {
			s.mu.Lock()
			s.cached = balances
			s.fetchedAt = s.now()
			view = balances
			s.mu.Unlock()
		}
	}

	out := make([]Position, 0, len(view))
	s.mu.Lock()
	for _, tb := range view {
		if tb.Amount <= 0 {
			continue
		}
		out = append(out, Position{
			Mint:       tb.Mint,
			Amount:     tb.Amount,
			RawAmount:  tb.RawAmount,
			Decimals:   tb.Decimals,
			EntryPrice: s.entries[tb.Mint],
		})
	}
	s.mu.Unlock()

	metrics.OpenPositions.Set(float64(len(out)))
	return out, nil
}

// Invalidate drops the cached chain view so the next read refetches.
// Called after confirmed swaps.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// SetEntryPrice records the buy price for a mint and persists the
// mapping before returning.
func (s *Store) SetEntryPrice(mint string, price float64) error {
	s.mu.Lock()
	s.entries[mint] = price
	err := s.persistLocked()
	s.mu.Unlock()
	return err
}

// EntryPrice reports the recorded entry price for a mint.
func (s *Store) EntryPrice(mint string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.entries[mint]
	return price, ok
}

// RemoveEntry deletes a mint's entry price after a confirmed sell.
func (s *Store) RemoveEntry(mint string) error {
	s.mu.Lock()
	if _, ok := s.entries[mint]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.entries, mint)
	err := s.persistLocked()
	s.mu.Unlock()
	return err
}

// Entries returns a copy of the entry-price map.
func (s *Store) Entries() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.entries))
	for mint, price := range s.entries {
		out[mint] = price
	}
	return out
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := state.SaveJSON(s.path, s.entries); err != nil {
		return fmt.Errorf("persist entry prices: %w", err)
	}
	return nil
}
