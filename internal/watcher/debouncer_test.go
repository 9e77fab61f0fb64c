package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Burst, wait time.Duration) (Burst, bool) {
	t.Helper()
	select {
	case b := <-ch:
		return b, true
	case <-time.After(wait):
		return Burst{}, false
	}
}

func TestDebouncer_SingleEvent(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add("/media", "photo.jpg", EventCreate)

	b, ok := receive(t, d.Bursts(), 300*time.Millisecond)
	if !ok {
		t.Fatal("timed out waiting for burst")
	}
	if len(b.Events) != 1 || b.Events[0].Path != "photo.jpg" || b.Events[0].EventType != EventCreate {
		t.Errorf("burst = %+v, want one CREATE of photo.jpg", b.Events)
	}
	if !b.Touches("/media") || b.Touches("/data") {
		t.Errorf("Touches mismatch for %+v", b.Events)
	}
}

func TestDebouncer_OneBurstForRapidWrites(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	defer d.Stop()

	d.Add("/data", "local.db-wal", EventModify)
	d.Add("/data", "local.db-wal", EventModify)
	d.Add("/media", "a.jpg", EventCreate)
	d.Add("/data", "local.db-wal", EventModify)

	bursts := 0
	var events int
	timeout := time.After(400 * time.Millisecond)
loop:
	for {
		select {
		case b := <-d.Bursts():
			bursts++
			events += len(b.Events)
		case <-timeout:
			break loop
		}
	}

	if bursts != 1 || events != 2 {
		t.Errorf("got %d bursts with %d events, want 1 burst with 2 events", bursts, events)
	}
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		seq  []EventType
		want EventType
	}{
		{"delete wins", []EventType{EventCreate, EventDelete}, EventDelete},
		{"create then modify stays create", []EventType{EventCreate, EventModify}, EventCreate},
		{"delete then create stays delete", []EventType{EventDelete, EventCreate}, EventDelete},
		{"modify then modify", []EventType{EventModify, EventModify}, EventModify},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(time.Hour)
			defer d.Stop()

			for _, ev := range tt.seq {
				d.Add("/media", "a.jpg", ev)
			}
			d.Flush()

			b, ok := receive(t, d.Bursts(), 100*time.Millisecond)
			if !ok {
				t.Fatal("flush did not emit")
			}
			if got := b.Events[0].EventType; got != tt.want {
				t.Errorf("coalesced to %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDebouncer_Flush(t *testing.T) {
	d := NewDebouncer(5 * time.Second)
	defer d.Stop()

	d.Add("/media", "a.jpg", EventCreate)
	if d.PendingCount() != 1 {
		t.Errorf("expected 1 pending, got %d", d.PendingCount())
	}

	d.Flush()
	if _, ok := receive(t, d.Bursts(), 100*time.Millisecond); !ok {
		t.Error("flush should emit immediately")
	}
	if d.PendingCount() != 0 {
		t.Errorf("expected 0 pending after flush, got %d", d.PendingCount())
	}

	// nothing pending: no empty burst
	d.Flush()
	if b, ok := receive(t, d.Bursts(), 50*time.Millisecond); ok {
		t.Errorf("unexpected burst %+v", b)
	}
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(time.Hour)
	d.Add("/media", "a.jpg", EventCreate)
	d.Stop()
	d.Stop()

	if _, ok := <-d.Bursts(); ok {
		t.Error("expected closed channel after Stop")
	}
	d.Add("/media", "b.jpg", EventCreate)
	if d.PendingCount() != 0 {
		t.Error("Add after Stop should be ignored")
	}
}

func TestEventType_String(t *testing.T) {
	tests := []struct {
		event    EventType
		expected string
	}{
		{EventCreate, "CREATE"},
		{EventModify, "MODIFY"},
		{EventDelete, "DELETE"},
		{EventType(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if tt.event.String() != tt.expected {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.event, tt.event.String(), tt.expected)
		}
	}
}

func TestWatcher_ShouldIgnore(t *testing.T) {
	w := &Watcher{ignorePatterns: []string{"**/*-journal", "**/*-shm", "**/*.tmp", "**/.DS_Store"}}

	tests := []struct {
		path string
		want bool
	}{
		{"local.db-journal", true},
		{"local.db-shm", true},
		{"local.db-wal", false},
		{"local.db", false},
		{"AssessmentItem_7_1709287200000.jpg.tmp", true},
		{".DS_Store", true},
		{"AssessmentItem_7_1709287200000.jpg", false},
	}
	for _, tt := range tests {
		if got := w.shouldIgnore(tt.path); got != tt.want {
			t.Errorf("shouldIgnore(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatcher_EmitsBurstForRootChanges(t *testing.T) {
	media := t.TempDir()
	data := filepath.Join(t.TempDir(), "data")

	w, err := NewWatcher([]string{media, data, media}, 50*time.Millisecond, []string{"**/*.tmp"})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(media, "upload.tmp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(data, "local.db"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	b, ok := receive(t, w.Bursts(), 2*time.Second)
	if !ok {
		t.Fatal("timed out waiting for burst")
	}
	if !b.Touches(data) || b.Touches(media) {
		t.Errorf("burst = %+v, want only the data root", b.Events)
	}
	for _, ev := range b.Events {
		if ev.Path != "local.db" {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}
