package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Pipeline stages timed per run.
const (
	StageSTT       = "stt"
	StageLLM       = "llm"
	StageTTS       = "tts"
	StageSend      = "send"
	StageTurnTotal = "turn_total"
)

// Indicators counted alongside stage latencies.
const (
	IndicatorRunSkippedBusy  = "run_skipped_busy"
	IndicatorFallbackReply   = "fallback_reply"
	IndicatorEmptyTranscript = "empty_transcript"
	IndicatorChunkDropped    = "chunk_dropped"
	IndicatorPersistFailed   = "persist_failed"
)

// stageTargets is the p95 budget per stage for a 2s utterance on a phone line.
var stageTargets = map[string]float64{
	StageSTT:       1500,
	StageLLM:       2500,
	StageTTS:       1500,
	StageTurnTotal: 6000,
}

type StageStats struct {
	Stage string `json:"stage"`
	// Samples counts values in the window; Observed counts every value since reset.
	Samples     int     `json:"samples"`
	Observed    int     `json:"observed"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  int     `json:"over_target,omitempty"`
}

type IndicatorCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []StageStats     `json:"stages"`
	Indicators  []IndicatorCount `json:"indicators,omitempty"`
}

// latencyRing holds the most recent samples of one stage.
type latencyRing struct {
	buf   []float64
	head  int
	full  bool
	total int
}

func (r *latencyRing) add(ms float64) {
	r.buf[r.head] = ms
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
		r.full = true
	}
	r.total++
}

func (r *latencyRing) latest() float64 {
	i := r.head - 1
	if i < 0 {
		i = len(r.buf) - 1
	}
	return r.buf[i]
}

func (r *latencyRing) window() []float64 {
	if r.full {
		return slices.Clone(r.buf)
	}
	return slices.Clone(r.buf[:r.head])
}

type stageWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*latencyRing
	indicators map[string]int
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:       size,
		rings:      make(map[string]*latencyRing),
		indicators: make(map[string]int),
	}
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &latencyRing{buf: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.add(ms)
}

func (w *stageWindow) ObserveIndicator(name string) {
	if name = strings.TrimSpace(name); name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.rings)) {
		if r := w.rings[stage]; r.total > 0 {
			snap.Stages = append(snap.Stages, summarize(stage, r))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		snap.Indicators = append(snap.Indicators, IndicatorCount{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.rings)
	clear(w.indicators)
}

func summarize(stage string, r *latencyRing) StageStats {
	samples := r.window()
	slices.Sort(samples)

	var sum float64
	for _, v := range samples {
		sum += v
	}
	st := StageStats{
		Stage:    stage,
		Samples:  len(samples),
		Observed: r.total,
		LastMS:   round2(r.latest()),
		AvgMS:    round2(sum / float64(len(samples))),
		P50MS:    percentile(samples, 50),
		P95MS:    percentile(samples, 95),
		P99MS:    percentile(samples, 99),
		MaxMS:    round2(samples[len(samples)-1]),
	}
	if target, ok := stageTargets[stage]; ok {
		st.TargetP95MS = target
		// samples is sorted; everything past the first value above target is over.
		i, _ := slices.BinarySearchFunc(samples, target, func(v, t float64) int {
			if v <= t {
				return -1
			}
			return 1
		})
		st.OverTarget = len(samples) - i
	}
	return st
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(len(sorted)) / 100))
	rank = min(max(rank, 1), len(sorted))
	return round2(sorted[rank-1])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
