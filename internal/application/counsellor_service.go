package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/counselling-scheduler/internal/persistence"
)

// CounsellorService exposes the read-only counsellor directory and applies
// snapshots pushed by the external directory maintenance.
type CounsellorService struct {
	directory CounsellorDirectory
	writer    CounsellorWriter
	logger    *slog.Logger
}

// NewCounsellorService constructs a counsellor service.
func NewCounsellorService(directory CounsellorDirectory, writer CounsellorWriter) *CounsellorService {
	return NewCounsellorServiceWithLogger(directory, writer, nil)
}

// NewCounsellorServiceWithLogger constructs a counsellor service with a specified logger.
func NewCounsellorServiceWithLogger(directory CounsellorDirectory, writer CounsellorWriter, logger *slog.Logger) *CounsellorService {
	return &CounsellorService{directory: directory, writer: writer, logger: defaultLogger(logger)}
}

func (s *CounsellorService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CounsellorService", operation, attrs...)
}

// GetCounsellor returns a single directory entry.
func (s *CounsellorService) GetCounsellor(ctx context.Context, id string) (Counsellor, error) {
	if s == nil || s.directory == nil {
		return Counsellor{}, fmt.Errorf("counsellor directory not configured")
	}
	if strings.TrimSpace(id) == "" {
		return Counsellor{}, ErrCounsellorNotFound
	}
	counsellor, err := s.directory.GetCounsellor(ctx, id)
	if err != nil {
		return Counsellor{}, mapCounsellorRepoError(err)
	}
	return counsellor, nil
}

// ListCounsellors returns every counsellor ordered by display name.
func (s *CounsellorService) ListCounsellors(ctx context.Context) (counsellors []Counsellor, err error) {
	if s == nil || s.directory == nil {
		err = fmt.Errorf("counsellor directory not configured")
		return
	}
	logger := s.loggerWith(ctx, "ListCounsellors")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list counsellors", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	counsellors, err = s.directory.ListCounsellors(ctx)
	if err != nil {
		err = mapCounsellorRepoError(err)
	}
	return
}

// SyncDirectory upserts every entry of a directory snapshot. A snapshot that
// fails validation writes nothing. A storage failure stops the sync after
// synced entries have been written; upserts are idempotent, so re-running
// the same snapshot completes it.
func (s *CounsellorService) SyncDirectory(ctx context.Context, entries []Counsellor) (synced int, err error) {
	if s == nil || s.writer == nil {
		err = fmt.Errorf("counsellor writer not configured")
		return
	}
	logger := s.loggerWith(ctx, "SyncDirectory", "entries", len(entries))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to sync counsellor directory", "error", err, "error_kind", ErrorKind(err), "synced", synced)
			return
		}
		logger.InfoContext(ctx, "counsellor directory synced", "synced", synced)
	}()

	vErr := &ValidationError{}
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		field := fmt.Sprintf("counsellors[%d]", i)
		id := strings.TrimSpace(entry.ID)
		switch {
		case id == "":
			vErr.add(field+".id", "id is required")
		case strings.TrimSpace(entry.DisplayName) == "":
			vErr.add(field+".display_name", "display name is required")
		}
		if _, dup := seen[id]; dup && id != "" {
			vErr.add(field+".id", "id is duplicated")
		}
		seen[id] = struct{}{}
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	for _, entry := range entries {
		entry.ID = strings.TrimSpace(entry.ID)
		entry.DisplayName = strings.TrimSpace(entry.DisplayName)
		entry.Specialty = strings.TrimSpace(entry.Specialty)
		if err = s.writer.UpsertCounsellor(ctx, entry); err != nil {
			err = fmt.Errorf("upsert counsellor %s: %w", entry.ID, mapCounsellorRepoError(err))
			return
		}
		synced++
	}
	return
}

func mapCounsellorRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCounsellorNotFound) || errors.Is(err, persistence.ErrNotFound) {
		return ErrCounsellorNotFound
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		return NewValidationError("counsellor", "counsellor violates a storage constraint")
	}
	return err
}
