package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CleanupConfig configures periodic housekeeping.
type CleanupConfig struct {
	Interval time.Duration
	// FileMaxAge is how old a leftover staged or uploaded file must be before removal.
	FileMaxAge time.Duration
	Dirs       []string
}

// CleanupResult contains the results of a cleanup run.
type CleanupResult struct {
	FreeEntriesRemoved   int64
	CreditEntriesRemoved int64
	FilesRemoved         int
	Errors               []error
}

// CleanupService sweeps the access ledger and removes leftover local files.
// Start and Stop are owned by the process lifecycle.
type CleanupService struct {
	ledger *AccessLedger
	cfg    CleanupConfig
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(ledger *AccessLedger, cfg CleanupConfig, logger *slog.Logger) *CleanupService {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.FileMaxAge <= 0 {
		cfg.FileMaxAge = 6 * time.Hour
	}
	return &CleanupService{
		ledger: ledger,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "cleanup"),
	}
}

// RunOnce performs a single cleanup pass. Individual failures are collected,
// not fatal.
func (s *CleanupService) RunOnce(ctx context.Context) *CleanupResult {
	result := &CleanupResult{}

	if s.ledger != nil {
		res, err := s.ledger.Cleanup(ctx)
		if err != nil {
			s.logger.Error("ledger cleanup failed", "error", err)
			result.Errors = append(result.Errors, err)
		} else {
			result.FreeEntriesRemoved = res.FreeEntriesRemoved
			result.CreditEntriesRemoved = res.CreditEntriesRemoved
		}
	}

	cutoff := s.now().Add(-s.cfg.FileMaxAge)
	for _, dir := range s.cfg.Dirs {
		n, err := removeFilesOlderThan(dir, cutoff)
		result.FilesRemoved += n
		if err != nil {
			s.logger.Warn("file cleanup failed", "dir", dir, "error", err)
			result.Errors = append(result.Errors, err)
		}
	}

	s.logger.Debug("cleanup completed",
		"free_entries_removed", result.FreeEntriesRemoved,
		"credit_entries_removed", result.CreditEntriesRemoved,
		"files_removed", result.FilesRemoved,
		"errors", len(result.Errors),
	)
	return result
}

// Start runs a pass immediately and then on every interval until Stop.
func (s *CleanupService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.logger.Info("starting scheduled cleanup", "interval", s.cfg.Interval.String())

		s.RunOnce(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduled cleanup stopped")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the scheduler and waits for an in-flight pass to finish.
func (s *CleanupService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}

// removeFilesOlderThan deletes regular files in dir (not recursive) last
// modified before cutoff. A missing dir is not an error.
func removeFilesOlderThan(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
