package feed

import (
	"context"
	"net/http"
	"sync"
)

// Disabled is a no-op Source used when no detector is attached, so the API
// and stored history can still be served. It tracks subscribers so their
// channels close deterministically on Unsubscribe or Close.
type Disabled struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

var _ Source = (*Disabled)(nil)

func NewDisabled() *Disabled {
	return &Disabled{
		subscribers: make(map[string]chan string),
	}
}

func (d *Disabled) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *Disabled) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *Disabled) SendCommand(string) error { return nil }

func (d *Disabled) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *Disabled) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Subscribers: len(d.subscribers)}
}

func (d *Disabled) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *Disabled) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/feed-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("feed disabled"))
	})
}
