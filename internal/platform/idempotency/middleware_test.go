package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func webhookRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/automation/brain", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddleware_WithoutKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, webhookRequest(`{"event":"PAGE_VISIT"}`, ""))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected each unkeyed delivery processed, got %d calls", calls)
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"action":"send_email","message":"","data":{}}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, webhookRequest(`{"event":"NEW_USER","userId":"u1"}`, "delivery-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, webhookRequest(`{"event":"NEW_USER","userId":"u1"}`, "delivery-1"))

	if calls != 1 {
		t.Fatalf("expected handler invoked once, got %d", calls)
	}
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed response, got %d %q", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header on second response")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected stored content type, got %q", second.Header().Get("Content-Type"))
	}
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, webhookRequest(`{"event":"RESTOCK"}`, "retry-me"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, webhookRequest(`{"event":"RESTOCK"}`, "retry-me"))

	if first.Code != http.StatusInternalServerError || second.Code != http.StatusOK {
		t.Fatalf("expected 500 then 200, got %d then %d", first.Code, second.Code)
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach handler, got %d calls", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), webhookRequest(`{"event":"NEW_USER"}`, "same-key"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, webhookRequest(`{"event":"LOW_STOCK"}`, "same-key"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := &stubStore{state: ReservationStatePending}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run for a pending key")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, webhookRequest(`{"event":"NEW_USER"}`, "busy"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_SaveFailureStillReturnsResponse(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, webhookRequest(`{"event":"NEW_USER"}`, "fail-key"))

	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected handler response, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected reservation to be released after save failure")
	}
}

func TestMiddleware_ReserveFailureReturnsUnavailable(t *testing.T) {
	store := &stubStore{reserveErr: errors.New("firestore down")}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, webhookRequest(`{"event":"NEW_USER"}`, "k"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "old", "fp", fixedTime.Add(-48*time.Hour), time.Hour); err != nil {
		t.Fatalf("reserve old: %v", err)
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime, 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}
	res, err := store.Reserve(ctx, "fresh", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected fresh record kept, got %+v %v", res, err)
	}
}

type stubStore struct {
	state      ReservationState
	reserveErr error
	failSave   bool
	released   bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return Reservation{State: s.state}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
