package reportportal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/rpinsight/rpinsight/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, handler http.Handler, maxRetries int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:    srv.URL + "/api",
		Token:      "test-token",
		Timeout:    5 * time.Second,
		RateLimit:  1000,
		MaxRetries: maxRetries,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestPageHasNext(t *testing.T) {
	tests := []struct {
		name string
		page Page
		want bool
	}{
		{"first of many", Page{Total: 10, Number: 0, Size: 3}, true},
		{"middle", Page{Total: 10, Number: 2, Size: 3}, true},
		{"last partial", Page{Total: 10, Number: 3, Size: 3}, false},
		{"exact fit", Page{Total: 6, Number: 1, Size: 3}, false},
		{"empty", Page{Total: 0, Number: 0, Size: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.page.HasNext(); got != tt.want {
				t.Errorf("HasNext = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClientPagination(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"content":[{"id":1},{"id":2}],"totalElements":5}`))
	}), 0)

	page, err := c.Launches(context.Background(), "demo", PageRequest{Number: 0, Size: 2},
		map[string]string{"filter.gte.startTime": "1718000000000"})
	if err != nil {
		t.Fatalf("Launches: %v", err)
	}

	// Upstream pages are 1-based
	if got := gotQuery["page.page"]; len(got) != 1 || got[0] != "1" {
		t.Errorf("page.page = %v, want [1]", got)
	}
	if got := gotQuery["page.size"]; len(got) != 1 || got[0] != "2" {
		t.Errorf("page.size = %v", got)
	}
	if got := gotQuery["page.sort"]; len(got) != 1 || got[0] != "startTime,desc" {
		t.Errorf("page.sort = %v", got)
	}
	if got := gotQuery["filter.gte.startTime"]; len(got) != 1 || got[0] != "1718000000000" {
		t.Errorf("startTime filter = %v", got)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}

	if len(page.Items) != 2 || page.Total != 5 {
		t.Errorf("page = %+v", page)
	}
	if !page.HasNext() {
		t.Error("expected a next page")
	}
	if page.Items[0].Field("id") != "1" {
		t.Errorf("first item = %v", page.Items[0])
	}
}

func TestClientPaths(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"content":[],"totalElements":0}`))
	}), 0)

	ctx := context.Background()
	req := PageRequest{Number: 0, Size: 10}

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{"projects", func() error { _, err := c.Projects(ctx, req); return err }, "/api/v1/project/list"},
		{"users", func() error { _, err := c.Users(ctx, req); return err }, "/api/users/all"},
		{"launches", func() error { _, err := c.Launches(ctx, "demo", req, nil); return err }, "/api/v1/demo/launch"},
		{"items", func() error { _, err := c.TestItems(ctx, "demo", "42", req); return err }, "/api/v1/demo/item"},
		{"logs", func() error { _, err := c.Logs(ctx, "demo", "42", req); return err }, "/api/v1/demo/log"},
		{"filters", func() error { _, err := c.Filters(ctx, "demo", req); return err }, "/api/v1/demo/filter"},
		{"dashboards", func() error { _, err := c.Dashboards(ctx, "demo", req); return err }, "/api/v1/demo/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err != nil {
				t.Fatalf("call: %v", err)
			}
			if gotPath != tt.want {
				t.Errorf("path = %q, want %q", gotPath, tt.want)
			}
		})
	}
}

func TestClientWidget(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/demo/widget/7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"id":7,"name":"failure trend"}`))
	}), 0)

	rec, err := c.Widget(context.Background(), "demo", "7")
	if err != nil {
		t.Fatalf("Widget: %v", err)
	}
	if rec.Field("name") != "failure trend" {
		t.Errorf("widget = %v", rec)
	}
}

func TestClientErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, func(err error) bool { return errors.Is(err, ErrAuthentication) }},
		{"throttled", http.StatusTooManyRequests, func(err error) bool { return errors.Is(err, ErrRateLimited) }},
		{"server error", http.StatusInternalServerError, func(err error) bool {
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusInternalServerError
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}), 3)

			_, err := c.Projects(context.Background(), PageRequest{Size: 10})
			if err == nil || !tt.check(err) {
				t.Errorf("err = %v", err)
			}
			// HTTP-level failures are never retried
			if calls.Load() != 1 {
				t.Errorf("handler called %d times, want 1", calls.Load())
			}
		})
	}
}

func TestClientRetriesNetworkFailure(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the first connection mid-request
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("server does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			conn.Close()
			return
		}
		w.Write([]byte(`{"content":[{"id":1}],"totalElements":1}`))
	}), 2)

	page, err := c.Projects(context.Background(), PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(page.Items) != 1 {
		t.Errorf("items = %d", len(page.Items))
	}
	if calls.Load() != 2 {
		t.Errorf("handler called %d times, want 2", calls.Load())
	}
}

func TestClientRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("server does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}), 1)

	_, err := c.Projects(context.Background(), PageRequest{Size: 10})
	if err == nil {
		t.Fatal("expected failure after exhausted retries")
	}
	if calls.Load() != 2 {
		t.Errorf("handler called %d times, want 2 (initial + 1 retry)", calls.Load())
	}
}

func TestNewClientValidation(t *testing.T) {
	logger := log.NewNop()

	if _, err := NewClient(Config{Token: "t"}, logger); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewClient(Config{BaseURL: "http://rp.local/api"}, logger); err == nil {
		t.Error("expected error without token")
	}
	if _, err := NewClient(Config{BaseURL: "http://rp.local/api", Token: "t"}, logger); err != nil {
		t.Errorf("defaults should apply: %v", err)
	}
}
