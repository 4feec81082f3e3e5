package util

import (
	"strings"
	"sync"
	"testing"
)

// TestListeners verifies Emit order-independence, cancel and Clear.
func TestListeners(t *testing.T) {
	var l Listeners[int]
	var mu sync.Mutex
	got := map[string]int{}

	record := func(name string) func(int) {
		return func(v int) {
			mu.Lock()
			got[name] += v
			mu.Unlock()
		}
	}

	cancelA := l.Add(record("a"))
	l.Add(record("b"))
	if n := l.Len(); n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}

	l.Emit(1)
	cancelA()
	cancelA()
	l.Emit(10)

	if got["a"] != 1 || got["b"] != 11 {
		t.Fatalf("got %v, want a=1 b=11", got)
	}

	l.Clear()
	l.Emit(100)
	if got["b"] != 11 || l.Len() != 0 {
		t.Fatalf("listener survived Clear: %v", got)
	}

	// Cancelling after Clear is harmless.
	cancelA()
}

// TestListenersGo verifies that Go delivers to every listener.
func TestListenersGo(t *testing.T) {
	var l Listeners[string]
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		l.Add(func(string) { wg.Done() })
	}
	l.Go("x")
	wg.Wait()
}

// TestFormatBytes verifies the fixed-width byte rendering.
func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{5 * 1024 * 1024, " 5.0 MiB"},
	}
	for _, tc := range testCases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestFormatStats verifies every counter shows up in the report line.
func TestFormatStats(t *testing.T) {
	line := FormatStats(Snapshot{
		Started: 2, Failed: 1,
		Relayed: 7, Queued: 3, Applied: 6, Dropped: 1,
		MsgSent: 4, MsgRecv: 5,
		BytesSent: 12, BytesRecv: 2048,
	})
	for _, want := range []string{"2/1", "7 relayed", "3 queued", "6 applied", "1 dropped", "4↑", "5↓", "2.0 KiB"} {
		if !strings.Contains(line, want) {
			t.Errorf("%q missing %q", line, want)
		}
	}
}

// TestStatsSnapshot verifies counters reach the snapshot.
func TestStatsSnapshot(t *testing.T) {
	before := Stats.Snapshot()
	Stats.AddSent(10)
	Stats.AddRecv(3)
	Stats.AddQueued()
	after := Stats.Snapshot()

	if after.MsgSent-before.MsgSent != 1 || after.BytesSent-before.BytesSent != 10 {
		t.Errorf("sent delta = %d msgs %d bytes", after.MsgSent-before.MsgSent, after.BytesSent-before.BytesSent)
	}
	if after.BytesRecv-before.BytesRecv != 3 || after.Queued-before.Queued != 1 {
		t.Errorf("recv/queued delta wrong: %+v → %+v", before, after)
	}
}
