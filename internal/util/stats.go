package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide negotiation/channel counter.
var Stats = &stats{}

type stats struct {
	NegotiationsStarted atomic.Int64 // negotiation attempts begun
	NegotiationsFailed  atomic.Int64 // attempts aborted by a fatal step failure
	CandidatesRelayed   atomic.Int64 // local candidates handed to the signaling transport
	CandidatesQueued    atomic.Int64 // remote candidates buffered before the remote description
	CandidatesApplied   atomic.Int64 // remote candidates accepted by the engine
	CandidatesDropped   atomic.Int64 // candidates lost to a delivery or engine failure
	MessagesSent        atomic.Int64 // channel messages written
	MessagesRecv        atomic.Int64 // channel messages read
	BytesSent           atomic.Int64 // channel payload bytes written
	BytesRecv           atomic.Int64 // channel payload bytes read
}

func (s *stats) AddNegotiation() { s.NegotiationsStarted.Add(1) }
func (s *stats) AddFailure()     { s.NegotiationsFailed.Add(1) }
func (s *stats) AddRelayed()     { s.CandidatesRelayed.Add(1) }
func (s *stats) AddQueued()      { s.CandidatesQueued.Add(1) }
func (s *stats) AddApplied()     { s.CandidatesApplied.Add(1) }
func (s *stats) AddDropped()     { s.CandidatesDropped.Add(1) }
func (s *stats) AddSent(n int)   { s.MessagesSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)   { s.MessagesRecv.Add(1); s.BytesRecv.Add(int64(n)) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Started, Failed                   int64
	Relayed, Queued, Applied, Dropped int64
	MsgSent, MsgRecv                  int64
	BytesSent, BytesRecv              int64
}

// Snapshot reads all counters.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		Started:   s.NegotiationsStarted.Load(),
		Failed:    s.NegotiationsFailed.Load(),
		Relayed:   s.CandidatesRelayed.Load(),
		Queued:    s.CandidatesQueued.Load(),
		Applied:   s.CandidatesApplied.Load(),
		Dropped:   s.CandidatesDropped.Load(),
		MsgSent:   s.MessagesSent.Load(),
		MsgRecv:   s.MessagesRecv.Load(),
		BytesSent: s.BytesSent.Load(),
		BytesRecv: s.BytesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs negotiation and channel
// statistics every interval, but only when something changed. It stops when
// ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(FormatStats(cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// FormatStats renders a snapshot as a single log line.
func FormatStats(s Snapshot) string {
	return fmt.Sprintf("Neg: %d/%d failed | Cand: %d relayed %d queued %d applied %d dropped | Msg: %d↑ %d↓ (%s ↑ %s ↓)",
		s.Started, s.Failed,
		s.Relayed, s.Queued, s.Applied, s.Dropped,
		s.MsgSent, s.MsgRecv,
		formatBytes(float64(s.BytesSent)),
		formatBytes(float64(s.BytesRecv)),
	)
}
