package httpx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// The router-wide timeout is the outer guard; it must leave room for the
// checkout handler's own 25s budget, otherwise that budget is dead code.
func TestRouterTimeoutIsOuterBound(t *testing.T) {
	r := NewRouter()
	var remaining time.Duration
	r.Get("/probe", func(w http.ResponseWriter, req *http.Request) {
		if dl, ok := req.Context().Deadline(); ok {
			remaining = time.Until(dl)
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/probe")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	res.Body.Close()

	if remaining == 0 {
		t.Fatal("router must set a request deadline")
	}
	if remaining <= 25*time.Second {
		t.Errorf("router deadline %v must exceed the 25s checkout budget", remaining)
	}
	if remaining > 30*time.Second {
		t.Errorf("router deadline %v exceeds the 30s outer guard", remaining)
	}
}

func TestHealthz(t *testing.T) {
	r := NewRouter()
	srv := httptest.NewServer(r)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}
