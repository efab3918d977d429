package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabled(t *testing.T) {
	d := NewDisabled()

	id, ch := d.Subscribe()
	if got := d.Stats().Subscribers; got != 1 {
		t.Errorf("Subscribers = %d, want 1", got)
	}
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	_, ch2 := d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch2; ok {
		t.Error("channel should be closed after Close")
	}
	_, late := d.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribe after Close should return a closed channel")
	}
	if err := d.SendCommand("x"); err != nil {
		t.Errorf("SendCommand: %v", err)
	}
}

func TestDisabledMonitorBlocksUntilCancel(t *testing.T) {
	d := NewDisabled()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Monitor = %v, want deadline exceeded", err)
	}
}

func TestDisabledAdminRoute(t *testing.T) {
	mux := http.NewServeMux()
	NewDisabled().AttachAdminRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/feed-disabled", nil))
	if w.Code != http.StatusOK || w.Body.String() != "feed disabled" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}
