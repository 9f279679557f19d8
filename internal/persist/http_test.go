package persist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loadout/internal/config"
	"loadout/internal/services"
)

func TestHTTPBackendSavePostsRecord(t *testing.T) {
	var got VerificationRecord
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/verifications" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	backend := NewHTTPBackend(config.Backend{Endpoint: srv.URL, APIKey: "key-1", TimeoutSeconds: 5})
	record := VerificationRecord{
		TenantID:        "acme",
		JobID:           "job-9",
		SessionID:       "sess-1",
		CompletedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Verified:        true,
		VerifiedItemIDs: []string{"drill", "ladder"},
	}
	if err := backend.SaveVerification(context.Background(), record); err != nil {
		t.Fatalf("SaveVerification: %v", err)
	}
	if gotAuth != "Bearer key-1" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if got.SessionID != "sess-1" || len(got.VerifiedItemIDs) != 2 {
		t.Fatalf("unexpected record received: %+v", got)
	}
}

func TestHTTPBackendServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	backend := NewHTTPBackend(config.Backend{Endpoint: srv.URL, TimeoutSeconds: 5})
	err := backend.SaveVerification(context.Background(), VerificationRecord{TenantID: "acme"})
	if err == nil {
		t.Fatal("expected error from 502 response")
	}
	if !services.Retryable(err) {
		t.Fatalf("502 should be retryable, got %v", err)
	}
}

func TestHTTPBackendRejectionIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	backend := NewHTTPBackend(config.Backend{Endpoint: srv.URL, TimeoutSeconds: 5})
	err := backend.SaveVerification(context.Background(), VerificationRecord{TenantID: "acme"})
	if err == nil {
		t.Fatal("expected error from 422 response")
	}
	if services.Retryable(err) {
		t.Fatalf("422 should not be retryable, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
}

func TestHTTPBackendListFiltersByTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("tenant"); got != "acme" {
			t.Errorf("tenant query = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]VerificationRecord{{TenantID: "acme", SessionID: "sess-2"}})
	}))
	defer srv.Close()

	backend := NewHTTPBackend(config.Backend{Endpoint: srv.URL, TimeoutSeconds: 5})
	records, err := backend.ListVerifications(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListVerifications: %v", err)
	}
	if len(records) != 1 || records[0].SessionID != "sess-2" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestNewHTTPBackendEmptyEndpoint(t *testing.T) {
	if backend := NewHTTPBackend(config.Backend{}); backend != nil {
		t.Fatal("expected nil backend without an endpoint")
	}
}
