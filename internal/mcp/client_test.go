package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/status":
			w.Write([]byte(`{"state":"running"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/history/run-1":
			w.Write([]byte(`{"deleted":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Run not found"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	raw, err := c.Get(ctx, "/v1/status")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(raw) != `{"state":"running"}` {
		t.Errorf("Get() = %s", raw)
	}

	if _, err := c.Delete(ctx, "/v1/history/run-1"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}

	_, err = c.Get(ctx, "/v1/history/missing")
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("Get() error = %v, want HTTP 404", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewClient(url).Get(context.Background(), "/v1/status"); err == nil {
		t.Error("expected error for closed server")
	}
}
