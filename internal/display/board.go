// Package display holds the latest measurement per subject and fans
// changes out to subscribers such as the HTTP API.
package display

import (
	crand "crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/measurefirst/internal/measure"
	"github.com/banshee-data/measurefirst/internal/timeutil"
)

// Update is one frame's worth of results for a subject. A nil measurement
// means the frame produced no result for it.
type Update struct {
	Subject   string
	Timestamp float64
	Height    *measure.Height
	Speed     *measure.Speed
}

// Reading is the displayed state of a subject.
type Reading struct {
	Subject string          `json:"subject"`
	Height  *measure.Height `json:"height,omitempty"`
	Speed   *measure.Speed  `json:"speed,omitempty"`
	// HeightCM is the truncated display value of Height.
	HeightCM  int       `json:"height_cm,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

const subscriberBuffer = 16

// Board is safe for concurrent use.
type Board struct {
	clock timeutil.Clock

	mu          sync.RWMutex
	readings    map[string]Reading
	subscribers map[string]chan Reading
}

// NewBoard returns an empty Board. A nil clock uses the real clock.
func NewBoard(clock timeutil.Clock) *Board {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Board{
		clock:       clock,
		readings:    make(map[string]Reading),
		subscribers: make(map[string]chan Reading),
	}
}

// Apply merges u into the subject's reading. Absent measurements keep the
// previously displayed value; a suppressed at-rest speed is a real reading
// and replaces it. Apply reports whether anything changed.
func (b *Board) Apply(u Update) bool {
	if u.Height == nil && u.Speed == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.readings[u.Subject]
	r.Subject = u.Subject
	if u.Height != nil {
		h := *u.Height
		r.Height = &h
		r.HeightCM = h.DisplayCentimeters()
	}
	if u.Speed != nil {
		s := *u.Speed
		r.Speed = &s
	}
	r.UpdatedAt = b.clock.Now()
	b.readings[u.Subject] = r

	for _, ch := range b.subscribers {
		select {
		case ch <- r:
		default:
		}
	}
	return true
}

// Latest returns the current reading for subject.
func (b *Board) Latest(subject string) (Reading, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.readings[subject]
	return r, ok
}

// All returns every subject's reading ordered by subject.
func (b *Board) All() []Reading {
	b.mu.RLock()
	out := make([]Reading, 0, len(b.readings))
	for _, r := range b.readings {
		out = append(out, r)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// Forget drops a subject from the board.
func (b *Board) Forget(subject string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.readings, subject)
}

// Subscribe returns a channel receiving every changed Reading. Slow
// subscribers miss intermediate readings rather than blocking Apply.
func (b *Board) Subscribe() (string, <-chan Reading) {
	bs := make([]byte, 8)
	crand.Read(bs)
	id := hex.EncodeToString(bs)
	ch := make(chan Reading, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (b *Board) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}
