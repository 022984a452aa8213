// Package memory implements the reconciler stores in memory.
//
// Used by unit tests and local development. The single mutex makes each
// operation atomic, mirroring the guarantees the PostgreSQL schema gives:
// InsertEntry is insert-if-absent on (reference, type) and AdjustBalance
// is an atomic add.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fertilia/reconciler/internal/domain"
	"github.com/fertilia/reconciler/internal/store"
)

// Store is a thread-safe in-memory implementation of all three store
// interfaces.
type Store struct {
	mu       sync.Mutex
	entries  map[string]domain.LedgerEntry // key: reference + "/" + type
	order    []string                      // insertion order of entry keys
	accounts map[string]*domain.CreditAccount
	jobs     map[string]*domain.Job
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entries:  make(map[string]domain.LedgerEntry),
		accounts: make(map[string]*domain.CreditAccount),
		jobs:     make(map[string]*domain.Job),
	}
}

func entryKey(reference string, typ domain.EntryType) string {
	return reference + "/" + string(typ)
}

func (s *Store) InsertEntry(ctx context.Context, e domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey(e.Reference, e.Type)
	if _, exists := s.entries[key]; exists {
		return store.ErrDuplicateEntry
	}
	s.entries[key] = e
	s.order = append(s.order, key)
	return nil
}

func (s *Store) FindEntry(ctx context.Context, jobID string, typ domain.EntryType) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryKey(jobID, typ)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := e
	return &copied, nil
}

func (s *Store) EntriesByJob(ctx context.Context, jobID string) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.LedgerEntry
	for _, key := range s.order {
		if e := s.entries[key]; e.Reference == jobID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *Store) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	a.Remaining = a.Remaining.Add(delta)
	a.UpdatedAt = time.Now()
	return a.Remaining, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

// PutAccount seeds an account. Not part of the AccountStore contract;
// account creation belongs to the top-up flow.
func (s *Store) PutAccount(a domain.CreditAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := a
	s.accounts[a.UserID] = &copied
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (s *Store) MarkReconciled(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[jobID]; ok {
		j.Reconciled = true
	}
	return nil
}

// PutJob seeds a job record. Job creation belongs to the submission flow.
func (s *Store) PutJob(j domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := j
	s.jobs[j.JobID] = &copied
}

func (s *Store) ListUnreconciled(ctx context.Context, cursor string, limit int) ([]domain.Job, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, j := range s.jobs {
		if !j.Reconciled && j.Status.Terminal() && id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if len(ids) > limit {
		ids = ids[:limit]
	}

	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, *s.jobs[id])
	}

	next := ""
	if len(jobs) == limit {
		next = jobs[len(jobs)-1].JobID
	}
	return jobs, next, nil
}

var (
	_ store.LedgerStore  = (*Store)(nil)
	_ store.AccountStore = (*Store)(nil)
	_ store.JobStore     = (*Store)(nil)
)
