package monitoring

import (
	"fmt"
	"testing"
	"time"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	calls := 0
	SetLogger(func(string, ...interface{}) { calls++ })
	Logf("kmeans: run %d reseeded %d empty clusters", 0, 1)
	if calls != 1 {
		t.Fatalf("custom logger called %d times, want 1", calls)
	}

	// nil mutes instead of restoring the previous logger.
	SetLogger(nil)
	Logf("muted")
	if calls != 1 {
		t.Errorf("muted logger reached the previous logger")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	Logf("default logger: %s", "ok")
}

func TestTimef_LogsElapsed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	ticks := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 2, 500_000_000, time.UTC),
	}
	now := func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	}

	done := timef(now, "fit reducer on %d samples", 12)
	if got != "" {
		t.Fatalf("logged before completion: %q", got)
	}
	done()

	if want := "fit reducer on 12 samples took 2.5s"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
