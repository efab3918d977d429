// Package feed fans out lines from a single detector connection to multiple
// subscribers, and exposes admin routes to watch the live stream.
package feed

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to detector port")

//go:embed templates/*
var adminTemplateFS embed.FS

var tailTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/tail.html.tmpl"))

// subscriberBuffer is the per-subscriber channel depth. Lines are dropped
// for a subscriber whose buffer is full.
const subscriberBuffer = 64

// maxScanLine bounds a single frame line; feature point clouds can be large.
const maxScanLine = 4 * 1024 * 1024

// Stats counts lines seen by a Mux.
type Stats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Source is the interface the pipeline and service depend on.
type Source interface {
	// Subscribe creates a new channel for receiving lines. The ID is used
	// to identify the channel when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the detector.
	SendCommand(string) error
	// Monitor reads lines from the port and sends them to subscribers
	// until the context is done or the port reaches EOF.
	Monitor(context.Context) error
	// Close closes all subscribed channels and the port.
	Close() error
	// Stats returns line counters.
	Stats() Stats
	// AttachAdminRoutes attaches debugging endpoints served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// Mux is a generic line multiplexer over a single Porter.
type Mux[T Porter] struct {
	port         T
	lossless     bool
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      atomic.Bool
	done         chan struct{}

	// released lets a lossless publish blocked on a subscriber give up
	// without holding up Unsubscribe.
	released   map[string]chan struct{}
	releasedMu sync.Mutex

	lines   atomic.Uint64
	dropped atomic.Uint64
}

var _ Source = (*Mux[Porter])(nil)

// NewMux creates a Mux reading from port. Lines are dropped for full
// subscribers unless the port reports itself lossless.
func NewMux[T Porter](port T) *Mux[T] {
	m := &Mux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
		released:    make(map[string]chan struct{}),
		done:        make(chan struct{}),
	}
	if lp, ok := any(port).(losslessPort); ok {
		m.lossless = lp.Lossless()
	}
	return m
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Mux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing.Load() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	s.releasedMu.Lock()
	s.released[id] = make(chan struct{})
	s.releasedMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (s *Mux[T]) Unsubscribe(id string) {
	s.release(id)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand sends a newline-terminated command to the detector.
func (s *Mux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port and sends them to subscribers.
func (s *Mux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 64*1024), maxScanLine)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan runs in its own goroutine so the loop below can
	// still observe context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
				}
				return nil
			}
			if s.closing.Load() {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			s.lines.Add(1)
			s.publish(ctx, line)
		}
	}
}

func (s *Mux[T]) publish(ctx context.Context, line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		if !s.lossless {
			select {
			case ch <- line:
			default:
				// skip a full subscriber so one slow reader cannot stall the rest
				s.dropped.Add(1)
			}
			continue
		}

		s.releasedMu.Lock()
		gone := s.released[id]
		s.releasedMu.Unlock()
		if gone == nil {
			continue
		}
		select {
		case ch <- line:
		case <-gone:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// release wakes a publish blocked on subscriber id.
func (s *Mux[T]) release(id string) {
	s.releasedMu.Lock()
	defer s.releasedMu.Unlock()
	if gone, ok := s.released[id]; ok {
		close(gone)
		delete(s.released, id)
	}
}

// Stats returns line counters.
func (s *Mux[T]) Stats() Stats {
	s.subscriberMu.Lock()
	n := len(s.subscribers)
	s.subscriberMu.Unlock()
	return Stats{Lines: s.lines.Load(), Dropped: s.dropped.Load(), Subscribers: n}
}

func (s *Mux[T]) Close() error {
	if s.closing.Swap(true) {
		return nil
	}
	close(s.done)

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *Mux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

func attachAdminRoutes(mux *http.ServeMux, s Source) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("feed-tail", "live tail of the perception feed", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := tailTemplate.Execute(buf, struct{ MaxLines int }{MaxLines: 500}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleFunc("feed-stats", "perception feed line counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to detector", command))
	})

	// Server-Sent Events stream of raw feed lines.
	debug.HandleSilentFunc("feed-tail-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
