package sysfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherObservesCreation(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "platform_profile_choices")

	w, err := NewWatcher(testLogger())
	require.NoError(t, err)

	defer w.Close()

	events := make(chan Event, 4)
	require.NoError(t, w.Watch(target, func(ev Event) { events <- ev }))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(target, []byte("performance"), 0o644))

	select {
	case ev := <-events:
		require.Equal(t, EventCreated, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("expected a create event, got none")
	}
}

func TestWatcherObservesWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "dytc_lapmode")
	require.NoError(t, os.WriteFile(target, []byte("0"), 0o644))

	w, err := NewWatcher(testLogger())
	require.NoError(t, err)

	defer w.Close()

	events := make(chan Event, 4)
	require.NoError(t, w.Watch(target, func(ev Event) { events <- ev }))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(target, []byte("1"), 0o644))

	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a write event, got none")
	}
}
