package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/blwatch/blwatch/pkg/types"
)

// Stats summarizes one pool run.
type Stats struct {
	Counts     map[types.ProbeResult]int
	Processed  int
	Elapsed    time.Duration
	ProbedTime time.Duration
}

// Rate returns the throughput in tasks per second.
func (s *Stats) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Processed) / s.Elapsed.Seconds()
}

// AvgLatency returns the mean per-probe latency.
func (s *Stats) AvgLatency() time.Duration {
	if s.Processed == 0 {
		return 0
	}
	return s.ProbedTime / time.Duration(s.Processed)
}

// Summary renders the run as a single log line, results in display order.
func (s *Stats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "processed %d tasks in %s (%.1f tasks/s, avg %s)",
		s.Processed, s.Elapsed.Round(time.Millisecond), s.Rate(),
		s.AvgLatency().Round(time.Millisecond))
	sep := ": "
	for _, result := range types.Results {
		if n := s.Counts[result]; n > 0 {
			fmt.Fprintf(&b, "%s%s=%d", sep, result, n)
			sep = " "
		}
	}
	return b.String()
}
