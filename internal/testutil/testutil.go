// Package testutil provides shared test helpers: perception frame
// fixtures, recorded feeds and HTTP assertions.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/measurefirst/internal/monitoring"
)

// JointsFrame returns a feed line with a tracked head at (x, headY, z) and
// the right foot on the floor directly below it.
func JointsFrame(subject string, ts, x, headY, z float64) string {
	return fmt.Sprintf(`{"subject":%q,"timestamp":%g,"joints":{"head":{"x":%g,"y":%g,"z":%g,"tracked":true},"right_foot":{"x":%g,"y":0,"z":%g,"tracked":true}}}`,
		subject, ts, x, headY, z, x, z)
}

// ObjectFrame returns a feed line carrying only a 2D object center.
func ObjectFrame(subject string, ts, x, y float64) string {
	return fmt.Sprintf(`{"subject":%q,"timestamp":%g,"object":{"x":%g,"y":%g}}`, subject, ts, x, y)
}

// Recording joins feed lines into a newline-terminated recording.
func Recording(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// WriteRecording writes lines to a file in a per-test temp directory and
// returns its path.
func WriteRecording(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.jsonl")
	if err := os.WriteFile(path, []byte(Recording(lines...)), 0644); err != nil {
		t.Fatalf("failed to write recording: %v", err)
	}
	return path
}

// QuietLogs discards monitoring output for the rest of the test.
func QuietLogs(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
