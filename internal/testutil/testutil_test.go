package testutil

import (
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/banshee-data/measurefirst/internal/monitoring"
	"github.com/banshee-data/measurefirst/internal/perception"
)

func TestJointsFrameParses(t *testing.T) {
	f, err := perception.ParseFrame(JointsFrame("p1", 1.5, 0.2, 1.8, -2))
	AssertNoError(t, err)
	if f.SubjectID() != "p1" || f.Timestamp != 1.5 {
		t.Errorf("unexpected frame: %+v", f)
	}
	if !f.Joints.Tracked() {
		t.Error("expected tracked joints")
	}
	if f.Joints.Head.Y != 1.8 || f.Joints.RightFoot.Y != 0 {
		t.Errorf("unexpected joints: head=%+v foot=%+v", f.Joints.Head, f.Joints.RightFoot)
	}
}

func TestObjectFrameParses(t *testing.T) {
	f, err := perception.ParseFrame(ObjectFrame("", 2, 320, 240))
	AssertNoError(t, err)
	if f.Object == nil || f.Object.X != 320 || f.Object.Y != 240 {
		t.Errorf("unexpected object: %+v", f.Object)
	}
	if f.SubjectID() != perception.DefaultSubject {
		t.Errorf("subject = %q, want default", f.SubjectID())
	}
}

func TestWriteRecording(t *testing.T) {
	path := WriteRecording(t, "a", "b")
	data, err := os.ReadFile(path)
	AssertNoError(t, err)
	if string(data) != "a\nb\n" {
		t.Errorf("recording = %q", data)
	}
	if !strings.HasSuffix(path, ".jsonl") {
		t.Errorf("path = %s", path)
	}
}

func TestQuietLogs(t *testing.T) {
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })

	called := false
	monitoring.SetLogger(func(string, ...interface{}) { called = true })

	t.Run("quiet", func(t *testing.T) {
		QuietLogs(t)
		monitoring.Logf("hidden")
	})
	if called {
		t.Error("expected log output to be discarded inside QuietLogs")
	}
	monitoring.Logf("visible")
	if !called {
		t.Error("expected logger to be restored after the subtest")
	}
}

func TestAssertStatusCode(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}
