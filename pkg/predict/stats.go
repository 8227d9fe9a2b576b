package predict

import (
	"math"
	"slices"
	"time"
)

// Only the most recent latency samples are kept.
const maxLatencySamples = 4096

type Stats struct {
	None  uint64
	Blend uint64
	Snap  uint64

	latencies []time.Duration
	next      int
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) Record(band Band) {
	switch band {
	case BandNone:
		s.None++
	case BandBlend:
		s.Blend++
	case BandSnap:
		s.Snap++
	}
}

func (s *Stats) RecordLatency(latency time.Duration) {
	if len(s.latencies) < maxLatencySamples {
		s.latencies = append(s.latencies, latency)
		return
	}
	s.latencies[s.next] = latency
	s.next = (s.next + 1) % maxLatencySamples
}

func (s *Stats) Total() uint64 {
	return s.None + s.Blend + s.Snap
}

// Report summarizes corrections for tuning the deadzone and snap threshold.
type Report struct {
	Samples      int
	LatencyP50Ms float64
	LatencyP95Ms float64
	// Standard deviation of first-correction latency.
	JitterMs float64
	// Share of reconciliations outside the deadzone, snaps included.
	CorrectionPct float64
	SnapPct       float64
}

func (s *Stats) Report() Report {
	samples := make([]float64, len(s.latencies))
	for i, latency := range s.latencies {
		samples[i] = float64(latency) / float64(time.Millisecond)
	}

	report := Report{
		Samples:      len(samples),
		LatencyP50Ms: percentile(samples, 0.5),
		LatencyP95Ms: percentile(samples, 0.95),
		JitterMs:     stddev(samples),
	}

	if total := s.Total(); total > 0 {
		report.CorrectionPct = float64(s.Blend+s.Snap) / float64(total) * 100
		report.SnapPct = float64(s.Snap) / float64(total) * 100
	}

	return report
}

// percentile uses the nearest rank over the sorted samples.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	p = math.Max(0, math.Min(1, p))
	rank := int(math.Round(p * float64(len(sorted)-1)))
	return sorted[rank]
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		sum += sample
	}
	return sum / float64(len(samples))
}

func stddev(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}

	avg := mean(samples)
	var variance float64
	for _, sample := range samples {
		delta := sample - avg
		variance += delta * delta
	}
	return math.Sqrt(variance / float64(len(samples)))
}
