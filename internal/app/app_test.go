package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/counselling-scheduler/internal/application"
	"github.com/example/counselling-scheduler/internal/config"
	"github.com/example/counselling-scheduler/internal/events"
	"github.com/example/counselling-scheduler/internal/persistence"
	"github.com/example/counselling-scheduler/internal/persistence/memory"
	"github.com/example/counselling-scheduler/internal/persistence/sqlite"
)

var referenceNow = time.Date(2025, time.January, 6, 10, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		StorageDriver:             config.DriverMemory,
		Location:                  time.UTC,
		SlotHorizonDays:           7,
		RateLimitPerMinute:        600,
		BookingRateLimitPerMinute: 600,
		KafkaTopic:                events.DefaultTopic,
	}
}

func newTestAPI(t *testing.T, cfg config.Config) (*api, *memory.Storage) {
	t.Helper()
	store := memory.New()
	if err := store.UpsertCounsellor(context.Background(), persistence.Counsellor{ID: "c1", DisplayName: "Ada Lovelace"}); err != nil {
		t.Fatalf("failed to seed counsellor: %v", err)
	}
	a, err := newAPI(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)), func() time.Time { return referenceNow })
	if err != nil {
		t.Fatalf("newAPI returned error: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, store
}

func serve(t *testing.T, handler http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for key, value := range header {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

type slotsPayload struct {
	Slots []struct {
		Date      string `json:"date"`
		StartTime string `json:"start_time"`
	} `json:"slots"`
}

func TestAPI_BookingLifecycle(t *testing.T) {
	t.Parallel()

	a, _ := newTestAPI(t, testConfig())

	listSlots := func() slotsPayload {
		w := serve(t, a.handler, http.MethodGet, "/api/counsellors/c1/slots", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("slots status = %d: %s", w.Code, w.Body.String())
		}
		var payload slotsPayload
		if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode slots: %v", err)
		}
		return payload
	}

	before := listSlots()
	if len(before.Slots) == 0 || before.Slots[0].Date != "2025-01-07" || before.Slots[0].StartTime != "09:00" {
		t.Fatalf("expected first slot on Tuesday 09:00, got %+v", before.Slots)
	}

	booking := `{"counsellor_id":"c1","student_id":"student-1","date":"2025-01-07","start_time":"09:00","session_type":"IN_PERSON","location":"Room 4"}`
	w := serve(t, a.handler, http.MethodPost, "/api/sessions", booking, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("book status = %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	var created struct {
		Session struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"session"`
	}
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if created.Session.ID == "" || created.Session.Status != "SCHEDULED" {
		t.Fatalf("unexpected session: %+v", created.Session)
	}

	if after := listSlots(); len(after.Slots) != len(before.Slots)-1 {
		t.Fatalf("expected booked slot to disappear, got %d slots (was %d)", len(after.Slots), len(before.Slots))
	}

	w = serve(t, a.handler, http.MethodPost, "/api/sessions", strings.Replace(booking, "student-1", "student-2", 1), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("double booking status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = serve(t, a.handler, http.MethodPost, "/api/sessions/"+created.Session.ID+"/cancel", `{"reason":"exam moved"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", w.Code, w.Body.String())
	}
	if after := listSlots(); len(after.Slots) != len(before.Slots) {
		t.Fatalf("expected cancelled slot to reappear")
	}

	w = serve(t, a.handler, http.MethodGet, "/metrics", "", nil)
	for _, want := range []string{
		`counselling_session_operations_total{operation="book",outcome="ok"} 1`,
		`counselling_session_operations_total{operation="book",outcome="slot_unavailable"} 1`,
		`counselling_http_requests_total{method="POST",status="409"} 1`,
	} {
		if !strings.Contains(w.Body.String(), want) {
			t.Fatalf("expected metrics to contain %q", want)
		}
	}

	if w := serve(t, a.handler, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestAPI_RequiresKeyWhenConfigured(t *testing.T) {
	t.Parallel()

	encoded, err := application.HashAPIKey("s3cret", application.Argon2idParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("HashAPIKey returned error: %v", err)
	}
	cfg := testConfig()
	cfg.APIKeyHash = encoded
	a, _ := newTestAPI(t, cfg)

	if w := serve(t, a.handler, http.MethodGet, "/api/counsellors", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
	if w := serve(t, a.handler, http.MethodGet, "/api/counsellors", "", map[string]string{"Authorization": "Bearer s3cret"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", w.Code)
	}

	cfg.APIKeyHash = "not-a-hash"
	if _, err := newAPI(cfg, memory.New(), nil, time.Now); err == nil {
		t.Fatalf("expected malformed key hash to be rejected")
	}
}

func setAppEnv(t *testing.T, dir string, values map[string]string) {
	t.Helper()
	defaults := map[string]string{
		"COUNSELLING_ENV_FILE":       filepath.Join(dir, "missing.env"),
		"COUNSELLING_STORAGE_DRIVER": "",
		"COUNSELLING_SQLITE_DSN":     "",
		"COUNSELLING_DATABASE_URL":   "",
		"COUNSELLING_API_KEY_HASH":   "",
		"COUNSELLING_KAFKA_BROKERS":  "",
		"COUNSELLING_TIMEZONE":       "",
		"COUNSELLING_LOG_LEVEL":      "",
		"COUNSELLING_LOG_FORMAT":     "",
	}
	for key, value := range values {
		defaults[key] = value
	}
	for key, value := range defaults {
		t.Setenv(key, value)
	}
}

func TestRun_HashKey(t *testing.T) {
	var out bytes.Buffer
	if err := Run(context.Background(), &out, []string{"hash-key", "s3cret"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	encoded := strings.TrimSpace(out.String())
	if err := application.VerifyAPIKey(encoded, "s3cret"); err != nil {
		t.Fatalf("expected printed hash to verify, got %v", err)
	}
}

func TestRun_SyncCounsellors(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "counselling.db")
	setAppEnv(t, dir, map[string]string{
		"COUNSELLING_STORAGE_DRIVER": "sqlite",
		"COUNSELLING_SQLITE_DSN":     "file:" + dbPath,
	})

	snapshot := filepath.Join(dir, "directory.json")
	body := `[{"id":"c1","display_name":"Ada Lovelace","specialty":"Exam stress"},{"id":"c2","display_name":"Grace Hopper"}]`
	if err := os.WriteFile(snapshot, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	var out bytes.Buffer
	if err := Run(context.Background(), &out, []string{"sync-counsellors", snapshot}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(out.String(), "synced 2 counsellors") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	store, err := sqlite.Open(sqlite.DefaultConfig(dbPath))
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	defer store.Close()
	counsellors, err := store.ListCounsellors(context.Background())
	if err != nil {
		t.Fatalf("ListCounsellors returned error: %v", err)
	}
	if len(counsellors) != 2 || counsellors[0].DisplayName != "Ada Lovelace" {
		t.Fatalf("unexpected counsellors: %+v", counsellors)
	}
}

func TestRun_Migrate(t *testing.T) {
	dir := t.TempDir()
	setAppEnv(t, dir, map[string]string{
		"COUNSELLING_STORAGE_DRIVER": "sqlite",
		"COUNSELLING_SQLITE_DSN":     filepath.Join(dir, "migrated.db"),
	})

	var out bytes.Buffer
	if err := Run(context.Background(), &out, []string{"migrate"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(out.String(), "migrations applied") {
		t.Fatalf("expected migration log line, got %s", out.String())
	}
	// A second run finds nothing to do.
	if err := Run(context.Background(), &out, []string{"migrate"}); err != nil {
		t.Fatalf("second migrate returned error: %v", err)
	}
}

func TestRun_InvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	setAppEnv(t, dir, map[string]string{"COUNSELLING_STORAGE_DRIVER": "postgres"})

	err := Run(context.Background(), io.Discard, []string{"serve"})
	if err == nil || !strings.Contains(err.Error(), "COUNSELLING_DATABASE_URL") {
		t.Fatalf("expected missing database url error, got %v", err)
	}

	if err := Run(context.Background(), io.Discard, []string{"bogus"}); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestRun_ServeStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	setAppEnv(t, dir, map[string]string{
		"COUNSELLING_STORAGE_DRIVER": "memory",
		"COUNSELLING_HTTP_PORT":      "18473",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, io.Discard, nil) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after cancellation")
	}
}

func TestServeUntilDone_WaitsForInFlightRequests(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusNoContent)
	})}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() {
		served <- serveUntilDone(ctx, server, ln, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	responded := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			responded <- 0
			return
		}
		resp.Body.Close()
		responded <- resp.StatusCode
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("request never reached the handler")
	}
	cancel()

	select {
	case err := <-served:
		t.Fatalf("expected serve to wait for the in-flight request, returned %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serveUntilDone returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after the request drained")
	}
	if status := <-responded; status != http.StatusNoContent {
		t.Fatalf("expected in-flight request to complete, got status %d", status)
	}
}
