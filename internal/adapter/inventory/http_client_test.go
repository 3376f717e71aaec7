package inventory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"
)

func TestInStock_QueriesEverySKU(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/inventory" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		got = r.URL.Query()["skuCode"]
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"skuCode":"GAME-1","isInStock":true},{"skuCode":"GAME-2","isInStock":false}]`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", nil)
	availability, err := client.InStock(context.Background(), []string{"GAME-1", "GAME-2", "GAME-3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sort.Strings(got)
	if len(got) != 3 || got[0] != "GAME-1" || got[2] != "GAME-3" {
		t.Errorf("unexpected query %v", got)
	}
	if !availability["GAME-1"] || availability["GAME-2"] {
		t.Errorf("unexpected availability %v", availability)
	}
	if _, ok := availability["GAME-3"]; ok {
		t.Error("expected GAME-3 to be unanswered")
	}
}

func TestInStock_DuplicateAnswersFalseWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"skuCode":"GAME-1","isInStock":false},{"skuCode":"GAME-1","isInStock":true}]`))
	}))
	defer srv.Close()

	availability, err := NewHTTPClient(srv.URL, nil).InStock(context.Background(), []string{"GAME-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if availability["GAME-1"] {
		t.Error("expected GAME-1 out of stock")
	}
}

func TestInStock_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"too many requests", http.StatusTooManyRequests, false},
		{"unavailable", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, nil).InStock(context.Background(), []string{"GAME-1"})

			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected StatusError, got: %v", err)
			}
			if statusErr.Code != tt.status || statusErr.Permanent() != tt.permanent {
				t.Errorf("got code %d permanent %v", statusErr.Code, statusErr.Permanent())
			}
		})
	}
}

func TestInStock_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"oops"`))
	}))
	defer srv.Close()

	if _, err := NewHTTPClient(srv.URL, nil).InStock(context.Background(), []string{"GAME-1"}); err == nil {
		t.Error("expected decode error")
	}
}

func TestInStock_HonoursContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := NewHTTPClient(srv.URL, nil).InStock(ctx, []string{"GAME-1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got: %v", err)
	}
}
