package application

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type counsellorWriterStub struct {
	upserted []Counsellor
	err      error
	failOn   string
}

func (w *counsellorWriterStub) UpsertCounsellor(ctx context.Context, counsellor Counsellor) error {
	if w.err != nil && (w.failOn == "" || w.failOn == counsellor.ID) {
		return w.err
	}
	w.upserted = append(w.upserted, counsellor)
	return nil
}

func TestCounsellorService_GetCounsellor(t *testing.T) {
	t.Parallel()

	svc := NewCounsellorService(newCounsellorDirectoryStub("c1"), nil)

	got, err := svc.GetCounsellor(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCounsellor returned error: %v", err)
	}
	if got.ID != "c1" {
		t.Fatalf("expected c1, got %+v", got)
	}

	for _, id := range []string{"", "ghost"} {
		if _, err := svc.GetCounsellor(context.Background(), id); !errors.Is(err, ErrCounsellorNotFound) {
			t.Fatalf("expected ErrCounsellorNotFound for %q, got %v", id, err)
		}
	}
}

func TestCounsellorService_ListCounsellors(t *testing.T) {
	t.Parallel()

	svc := NewCounsellorService(newCounsellorDirectoryStub("c2", "c1"), nil)
	got, err := svc.ListCounsellors(context.Background())
	if err != nil {
		t.Fatalf("ListCounsellors returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 counsellors, got %d", len(got))
	}

	failing := &counsellorDirectoryStub{err: errors.New("boom")}
	if _, err := NewCounsellorService(failing, nil).ListCounsellors(context.Background()); err == nil {
		t.Fatalf("expected directory error to propagate")
	}
}

func TestCounsellorService_SyncDirectory(t *testing.T) {
	t.Parallel()

	t.Run("upserts trimmed entries", func(t *testing.T) {
		t.Parallel()
		writer := &counsellorWriterStub{}
		svc := NewCounsellorService(newCounsellorDirectoryStub(), writer)

		synced, err := svc.SyncDirectory(context.Background(), []Counsellor{
			{ID: " c1 ", DisplayName: " Dr. Ada Lovelace ", Specialty: "Exam stress"},
			{ID: "c2", DisplayName: "Grace Hopper"},
		})
		if err != nil {
			t.Fatalf("SyncDirectory returned error: %v", err)
		}
		if synced != 2 || len(writer.upserted) != 2 {
			t.Fatalf("expected 2 entries synced, got %d", synced)
		}
		if writer.upserted[0].ID != "c1" || writer.upserted[0].DisplayName != "Dr. Ada Lovelace" {
			t.Fatalf("expected trimmed entry, got %+v", writer.upserted[0])
		}
	})

	t.Run("malformed snapshot writes nothing", func(t *testing.T) {
		t.Parallel()
		writer := &counsellorWriterStub{}
		svc := NewCounsellorService(newCounsellorDirectoryStub(), writer)

		_, err := svc.SyncDirectory(context.Background(), []Counsellor{
			{ID: "c1", DisplayName: "Ada"},
			{ID: "c1", DisplayName: "Ada again"},
			{ID: "c3"},
			{DisplayName: "Nobody"},
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"counsellors[1].id", "counsellors[2].display_name", "counsellors[3].id"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("expected %s error, got %v", field, vErr.FieldErrors)
			}
		}
		if len(writer.upserted) != 0 {
			t.Fatalf("expected no writes, got %d", len(writer.upserted))
		}
	})

	t.Run("writer failure reports progress", func(t *testing.T) {
		t.Parallel()
		writer := &counsellorWriterStub{err: errors.New("disk full")}
		svc := NewCounsellorService(newCounsellorDirectoryStub(), writer)
		synced, err := svc.SyncDirectory(context.Background(), []Counsellor{{ID: "c1", DisplayName: "Ada"}})
		if err == nil || synced != 0 {
			t.Fatalf("expected failure with nothing synced, got %d, %v", synced, err)
		}
	})

	t.Run("failure midway reports entries already written", func(t *testing.T) {
		t.Parallel()
		diskFull := errors.New("disk full")
		writer := &counsellorWriterStub{err: diskFull, failOn: "c2"}
		svc := NewCounsellorService(newCounsellorDirectoryStub(), writer)

		entries := []Counsellor{{ID: "c1", DisplayName: "Ada"}, {ID: "c2", DisplayName: "Grace"}, {ID: "c3", DisplayName: "Edsger"}}
		synced, err := svc.SyncDirectory(context.Background(), entries)
		if !errors.Is(err, diskFull) || !strings.Contains(err.Error(), "c2") {
			t.Fatalf("expected failure naming c2, got %v", err)
		}
		if synced != 1 || len(writer.upserted) != 1 {
			t.Fatalf("expected exactly the first entry to be written, got %d", synced)
		}

		writer.err = nil
		if synced, err = svc.SyncDirectory(context.Background(), entries); err != nil || synced != 3 {
			t.Fatalf("expected re-run to complete the sync, got %d, %v", synced, err)
		}
	})

	t.Run("requires writer", func(t *testing.T) {
		t.Parallel()
		if _, err := NewCounsellorService(newCounsellorDirectoryStub(), nil).SyncDirectory(context.Background(), nil); err == nil {
			t.Fatalf("expected error without writer")
		}
	})
}
