package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/jmylchreest/pawtalk-api/internal/models"
	"github.com/jmylchreest/pawtalk-api/internal/provider"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ========================================
// Mock VideoProvider
// ========================================

type mockProvider struct {
	mu sync.Mutex

	handle    string
	submitErr error
	submitted []provider.SubmitRequest

	pollResults []*provider.PollResult // Consumed in order; the last one repeats
	pollErr     error
	pollCalls   int

	downloadData []byte
	downloadErr  error
	downloads    int
}

func newMockProvider() *mockProvider {
	return &mockProvider{handle: "operations/op-1", downloadData: []byte("mp4-data")}
}

func (m *mockProvider) Submit(_ context.Context, req provider.SubmitRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, req)
	if m.submitErr != nil {
		return "", m.submitErr
	}
	return m.handle, nil
}

func (m *mockProvider) Poll(_ context.Context, _ string) (*provider.PollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollCalls++
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	if len(m.pollResults) == 0 {
		return &provider.PollResult{}, nil
	}
	res := m.pollResults[0]
	if len(m.pollResults) > 1 {
		m.pollResults = m.pollResults[1:]
	}
	return res, nil
}

func (m *mockProvider) Download(_ context.Context, v provider.Video) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads++
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	if len(v.Data) > 0 {
		return v.Data, nil
	}
	return m.downloadData, nil
}

func (m *mockProvider) setPolls(results ...*provider.PollResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollResults = results
}

func (m *mockProvider) polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCalls
}

func donePoll(uri string) *provider.PollResult {
	return &provider.PollResult{Done: true, Videos: []provider.Video{{URI: uri}}}
}

// ========================================
// Mock VideoStore
// ========================================

type mockVideoStore struct {
	mu      sync.Mutex
	err     error
	uploads map[string][]byte
}

func newMockVideoStore() *mockVideoStore {
	return &mockVideoStore{uploads: make(map[string][]byte)}
}

func (m *mockVideoStore) Upload(_ context.Context, localPath, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	m.uploads[key] = data
	return "https://cdn.example.com/" + key, nil
}

// ========================================
// Mock Watermarker
// ========================================

type mockWatermarker struct {
	available bool
	err       error
	applied   int
}

func (m *mockWatermarker) Available(context.Context) bool { return m.available }

func (m *mockWatermarker) Apply(_ context.Context, input string, _ WatermarkOptions) (string, error) {
	m.applied++
	if m.err != nil {
		return "", m.err
	}
	out := input + ".wm"
	data, err := os.ReadFile(input)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(out, append([]byte("WM:"), data...), 0o600); err != nil {
		return "", err
	}
	return out, nil
}

// ========================================
// Mock AccountRepository
// ========================================

type mockAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	failNext error
}

func newMockAccountRepository() *mockAccountRepository {
	return &mockAccountRepository{accounts: make(map[string]*models.Account)}
}

func (m *mockAccountRepository) seed(id string, purchased, admin int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = &models.Account{ID: id, PurchasedCredits: purchased, AdminCredits: admin}
}

func (m *mockAccountRepository) get(id string) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		return *a
	}
	return models.Account{}
}

func (m *mockAccountRepository) GetAccount(_ context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *mockAccountRepository) UpdateAccount(_ context.Context, id string, upd models.AccountUpdate) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.ensure(id)
	if upd.Email != nil {
		a.Email = *upd.Email
	}
	if upd.PurchasedCredits != nil {
		a.PurchasedCredits = *upd.PurchasedCredits
	}
	if upd.AdminCredits != nil {
		a.AdminCredits = *upd.AdminCredits
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccountRepository) DeductCredit(_ context.Context, id string) (*models.Account, models.CreditBucket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, "", false, err
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, "", false, nil
	}
	var bucket models.CreditBucket
	switch {
	case a.AdminCredits > 0:
		a.AdminCredits--
		bucket = models.BucketAdmin
	case a.PurchasedCredits > 0:
		a.PurchasedCredits--
		bucket = models.BucketPurchased
	default:
		return nil, "", false, nil
	}
	cp := *a
	return &cp, bucket, true, nil
}

func (m *mockAccountRepository) RefundCredit(_ context.Context, id string, bucket models.CreditBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.ensure(id)
	switch bucket {
	case models.BucketAdmin:
		a.AdminCredits++
	case models.BucketPurchased:
		a.PurchasedCredits++
	default:
		return fmt.Errorf("bad bucket %q", bucket)
	}
	return nil
}

func (m *mockAccountRepository) AddPurchasedCredits(_ context.Context, id string, amount int) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}
	a := m.ensure(id)
	a.PurchasedCredits += amount
	cp := *a
	return &cp, nil
}

func (m *mockAccountRepository) GrantAdminCredits(_ context.Context, id string, amount int) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.ensure(id)
	a.AdminCredits += amount
	cp := *a
	return &cp, nil
}

func (m *mockAccountRepository) RevokeAdminCredits(_ context.Context, id string, amount int) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	a.AdminCredits = max(a.AdminCredits-amount, 0)
	cp := *a
	return &cp, nil
}

func (m *mockAccountRepository) ensure(id string) *models.Account {
	a, ok := m.accounts[id]
	if !ok {
		a = &models.Account{ID: id}
		m.accounts[id] = a
	}
	return a
}

// ========================================
// Mock PurchaseRepository
// ========================================

type mockPurchaseRepository struct {
	mu        sync.Mutex
	purchases map[string]*models.CreditPurchase // keyed by payment ref
}

func newMockPurchaseRepository() *mockPurchaseRepository {
	return &mockPurchaseRepository{purchases: make(map[string]*models.CreditPurchase)}
}

func (m *mockPurchaseRepository) Create(_ context.Context, p *models.CreditPurchase) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.purchases[p.PaymentRef]; ok {
		return false, nil
	}
	cp := *p
	m.purchases[p.PaymentRef] = &cp
	return true, nil
}

func (m *mockPurchaseRepository) GetByPaymentRef(_ context.Context, ref string) (*models.CreditPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.purchases[ref]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *mockPurchaseRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ref, p := range m.purchases {
		if p.ID == id {
			delete(m.purchases, ref)
			return nil
		}
	}
	return errors.New("not found")
}

func (m *mockPurchaseRepository) ListByAccount(_ context.Context, accountID string, limit int) ([]*models.CreditPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CreditPurchase
	for _, p := range m.purchases {
		if p.AccountID == accountID && len(out) < limit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
