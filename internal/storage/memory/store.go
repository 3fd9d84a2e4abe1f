// Package memory is an in-process ledger and deal store used by tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

// Store keeps deals keyed by timestamp and ledger checkpoints in write order.
type Store struct {
	mu      sync.RWMutex
	deals   map[int64]domain.Deal
	ledgers map[int64]domain.Ledger
	latest  int64
	hasAny  bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		deals:   make(map[int64]domain.Deal),
		ledgers: make(map[int64]domain.Ledger),
	}
}

func (s *Store) LatestLedger(_ context.Context) (domain.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasAny {
		return domain.Ledger{}, domain.ErrNoLedger
	}
	return s.ledgers[s.latest], nil
}

func (s *Store) OpenDeals(_ context.Context) ([]domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make([]domain.Deal, 0)
	for _, d := range s.deals {
		if !d.Status.IsTerminal() {
			open = append(open, d)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Timestamp < open[j].Timestamp })

	return open, nil
}

func (s *Store) SaveStep(_ context.Context, deals []domain.Deal, ledger domain.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range deals {
		if err := d.Validate(); err != nil {
			return errors.Wrap(err, "save deal")
		}
	}
	for _, d := range deals {
		s.deals[d.Timestamp] = d
	}
	s.putLedger(ledger)

	return nil
}

func (s *Store) UpsertDeal(_ context.Context, deal domain.Deal) error {
	if err := deal.Validate(); err != nil {
		return errors.Wrap(err, "save deal")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deals[deal.Timestamp] = deal
	return nil
}

func (s *Store) UpsertLedger(_ context.Context, ledger domain.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putLedger(ledger)
	return nil
}

// Reset drops all deals and ledger checkpoints.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deals = make(map[int64]domain.Deal)
	s.ledgers = make(map[int64]domain.Ledger)
	s.latest = 0
	s.hasAny = false

	return nil
}

// Deal returns the deal created at timestamp.
func (s *Store) Deal(timestamp int64) (domain.Deal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deals[timestamp]
	return d, ok
}

// Deals returns every deal in timestamp order.
func (s *Store) Deals() []domain.Deal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })

	return all
}

// Ledgers returns every checkpoint in timestamp order.
func (s *Store) Ledgers() []domain.Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.Ledger, 0, len(s.ledgers))
	for _, l := range s.ledgers {
		all = append(all, l)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })

	return all
}

func (s *Store) putLedger(ledger domain.Ledger) {
	s.ledgers[ledger.Timestamp] = ledger
	if !s.hasAny || ledger.Timestamp >= s.latest {
		s.latest = ledger.Timestamp
		s.hasAny = true
	}
}
