package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/pawtalk-api/internal/database/migrations"
	"github.com/jmylchreest/pawtalk-api/internal/http/mw"
	"github.com/jmylchreest/pawtalk-api/internal/models"
	"github.com/jmylchreest/pawtalk-api/internal/provider"
	"github.com/jmylchreest/pawtalk-api/internal/repository"
	"github.com/jmylchreest/pawtalk-api/internal/service"
)

// statusOf returns the HTTP status carried by a huma error, or 0.
func statusOf(err error) int {
	var se huma.StatusError
	if errors.As(err, &se) {
		return se.GetStatus()
	}
	return 0
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// ========================================
// Fake VideoProvider and VideoStore
// ========================================

type fakeProvider struct {
	mu        sync.Mutex
	submitErr error
	submits   int
	done      bool
}

func (f *fakeProvider) Submit(_ context.Context, _ provider.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "operations/op-1", nil
}

func (f *fakeProvider) Poll(_ context.Context, _ string) (*provider.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		return &provider.PollResult{}, nil
	}
	return &provider.PollResult{Done: true, Videos: []provider.Video{{Data: []byte("mp4-data")}}}, nil
}

func (f *fakeProvider) Download(_ context.Context, v provider.Video) ([]byte, error) {
	return v.Data, nil
}

func (f *fakeProvider) setDone() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = true
}

func (f *fakeProvider) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeStore struct{}

func (fakeStore) Upload(_ context.Context, _ string, key string) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

// ========================================
// Test environment
// ========================================

type testEnv struct {
	provider   *fakeProvider
	ledger     *service.AccessLedger
	admission  *service.AdmissionService
	credits    *service.CreditService
	generation *service.GenerationService
	accounts   repository.AccountRepository
	purchases  repository.PurchaseRepository
	uploadDir  string

	gen    *GenerationHandler
	credit *CreditHandler
}

// newTestEnv wires real services over an in-memory libsql database and an
// in-memory ledger, with a fake provider and store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := discardLogger()
	repos := repository.NewRepositories(db)
	ledger := service.NewAccessLedger(repository.NewMemoryLedgerStore(), service.LedgerConfig{FreeCooldown: time.Hour}, logger)
	admission := service.NewAdmissionService(ledger, service.NewAccountCredits(repos.Account), logger)
	credits := service.NewCreditService(repos.Account, repos.Purchase, ledger, logger)

	fp := &fakeProvider{}
	generation := service.NewGenerationService(
		repository.NewMemoryJobRepository(),
		fp,
		fakeStore{},
		nil,
		service.GenerationConfig{StagingDir: t.TempDir()},
		logger,
	)

	uploadDir := t.TempDir()
	return &testEnv{
		provider:   fp,
		ledger:     ledger,
		admission:  admission,
		credits:    credits,
		generation: generation,
		accounts:   repos.Account,
		purchases:  repos.Purchase,
		uploadDir:  uploadDir,
		gen: NewGenerationHandler(admission, generation, GenerationHandlerConfig{
			UploadDir: uploadDir,
			BaseURL:   "https://api.example.com/",
			Wait:      service.WaitOptions{MaxAttempts: 3, Interval: time.Millisecond},
		}, logger),
		credit: NewCreditHandler(admission, credits, logger),
	}
}

func anonymous(key string) models.Identity {
	return models.Identity{Key: mw.AnonymousPrefix + key}
}

func account(id string) models.Identity {
	return models.Identity{Key: mw.AccountPrefix + id, AccountID: id, HasPersistedAccount: true}
}

// uploadRequest builds a multipart generation request. An empty filename omits the image.
func uploadRequest(t *testing.T, id models.Identity, fields map[string]string, filename string, image []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mpw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if filename != "" {
		part, err := mpw.CreateFormFile("image", filename)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		_, _ = part.Write(image)
	}
	if err := mpw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	return req.WithContext(mw.WithIdentity(req.Context(), id))
}

func (e *testEnv) create(t *testing.T, id models.Identity, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	if fields == nil {
		fields = map[string]string{}
	}
	if _, ok := fields["text"]; !ok {
		fields["text"] = "Who's a good boy?"
	}
	rec := httptest.NewRecorder()
	e.gen.CreateGeneration(rec, uploadRequest(t, id, fields, "rex.png", pngHeader))
	return rec
}

func withIdentity(id models.Identity) context.Context {
	return mw.WithIdentity(context.Background(), id)
}
