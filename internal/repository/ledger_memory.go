package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// MemoryLedgerStore implements LedgerStore in process memory. State is lost on
// restart; suitable for single-instance deployments and tests.
type MemoryLedgerStore struct {
	mu      sync.Mutex
	free    map[string]*models.AccessEntry
	credits map[string]*models.CreditBalance
}

// NewMemoryLedgerStore creates an empty in-memory ledger.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		free:    make(map[string]*models.AccessEntry),
		credits: make(map[string]*models.CreditBalance),
	}
}

func (s *MemoryLedgerStore) GetFreeUse(_ context.Context, identity string) (*models.AccessEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.free[identity]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (s *MemoryLedgerStore) RecordFreeUse(_ context.Context, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.free[identity]
	if !ok {
		s.free[identity] = &models.AccessEntry{Identity: identity, LastFreeGenerationAt: at, FreeGenerationCount: 1}
		return nil
	}
	if at.After(entry.LastFreeGenerationAt) {
		entry.LastFreeGenerationAt = at
	}
	entry.FreeGenerationCount++
	return nil
}

func (s *MemoryLedgerStore) GetCredits(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bal, ok := s.credits[identity]; ok {
		return bal.Credits, nil
	}
	return 0, nil
}

func (s *MemoryLedgerStore) AddCredits(_ context.Context, identity string, amount int, at time.Time) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.credits[identity]
	if !ok {
		bal = &models.CreditBalance{Identity: identity}
		s.credits[identity] = bal
	}
	bal.Credits += amount
	bal.LastUpdated = at
	return bal.Credits, nil
}

func (s *MemoryLedgerStore) DeductCredits(_ context.Context, identity string, amount int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.credits[identity]
	if !ok || bal.Credits < amount {
		return false, nil
	}
	bal.Credits -= amount
	bal.LastUpdated = at
	return true, nil
}

func (s *MemoryLedgerStore) Cleanup(_ context.Context, freeBefore, creditBefore time.Time) (LedgerCleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res LedgerCleanupResult
	for id, entry := range s.free {
		if entry.LastFreeGenerationAt.Before(freeBefore) {
			delete(s.free, id)
			res.FreeEntriesRemoved++
		}
	}
	for id, bal := range s.credits {
		if bal.Credits == 0 && bal.LastUpdated.Before(creditBefore) {
			delete(s.credits, id)
			res.CreditEntriesRemoved++
		}
	}
	return res, nil
}
