package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ActionStats accumulates invocation statistics of one bound action.
type ActionStats struct {
	mu sync.Mutex

	InvocationsProcessed uint64    `json:"invocations_processed"`
	InvocationsFailed    uint64    `json:"invocations_failed"`
	TotalProcessingTime  int64     `json:"total_processing_time_ns"`
	LastInvokedAt        time.Time `json:"last_invoked_at"`

	Latency     LatencyMetrics     `json:"latency"`
	Throughput  ThroughputMetrics  `json:"throughput"`
	Errors      ErrorBreakdown     `json:"errors"`
	Resource    ResourceUsage      `json:"resource"`
	Concurrency ConcurrencyMetrics `json:"concurrency"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	resourceSampler  *resourceTracker
}

// ActionInfo describes one bound action for the stats API.
type ActionInfo struct {
	Controller string       `json:"controller"`
	Namespace  string       `json:"namespace"`
	Name       string       `json:"name"`
	Kind       string       `json:"kind"`
	Event      string       `json:"event,omitempty"`
	Stats      *ActionStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS          float64 `json:"current_rps"`
	WindowSeconds       float64 `json:"window_seconds"`
	InvocationsInWindow uint64  `json:"invocations_in_window"`
	TotalInvocations    uint64  `json:"total_invocations"`
}

// ErrorBreakdown counts failures per ErrorCategory.
type ErrorBreakdown struct {
	Parse      uint64 `json:"parse"`
	Validation uint64 `json:"validation"`
	Resolution uint64 `json:"resolution"`
	Action     uint64 `json:"action"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

type ConcurrencyMetrics struct {
	InFlight    uint64 `json:"in_flight"`
	MaxInFlight uint64 `json:"max_in_flight"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryParse      ErrorCategory = "parse"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryResolution ErrorCategory = "resolution"
	ErrorCategoryAction     ErrorCategory = "action"
	ErrorCategoryOther      ErrorCategory = "other"
)

type ErrorClassifier func(error) ErrorCategory

func newActionStats(sampler *resourceTracker) *ActionStats {
	return &ActionStats{
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (a *ActionStats) onInvocationStart() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Concurrency.InFlight++
	if a.Concurrency.InFlight > a.Concurrency.MaxInFlight {
		a.Concurrency.MaxInFlight = a.Concurrency.InFlight
	}
}

func (a *ActionStats) onInvocationFinish(duration time.Duration, err error, classifier ErrorClassifier) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Concurrency.InFlight > 0 {
		a.Concurrency.InFlight--
	}

	a.InvocationsProcessed++
	if err != nil {
		a.InvocationsFailed++
	}
	a.TotalProcessingTime += int64(duration)
	now := time.Now()
	a.LastInvokedAt = now.UTC()

	if a.latencyWindow != nil {
		a.latencyWindow.Add(duration)
		snapshot := a.latencyWindow.Snapshot()
		snapshot.AverageNs = a.TotalProcessingTime / int64(a.InvocationsProcessed)
		a.Latency = snapshot
	}

	if a.throughputWindow != nil {
		snapshot := a.throughputWindow.AddAndSnapshot(now)
		a.Throughput.CurrentRPS = snapshot.CurrentRPS
		a.Throughput.WindowSeconds = snapshot.WindowSeconds
		a.Throughput.InvocationsInWindow = uint64(snapshot.Count)
	}
	a.Throughput.TotalInvocations = a.InvocationsProcessed

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	a.Errors.Record(classifier(err), err)

	if a.resourceSampler != nil {
		a.Resource = a.resourceSampler.Snapshot()
	}
}

func (a *ActionStats) MarshalJSON() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	type snapshot struct {
		InvocationsProcessed uint64             `json:"invocations_processed"`
		InvocationsFailed    uint64             `json:"invocations_failed"`
		TotalProcessingTime  int64              `json:"total_processing_time_ns"`
		LastInvokedAt        time.Time          `json:"last_invoked_at"`
		Latency              LatencyMetrics     `json:"latency"`
		Throughput           ThroughputMetrics  `json:"throughput"`
		Errors               ErrorBreakdown     `json:"errors"`
		Resource             ResourceUsage      `json:"resource"`
		Concurrency          ConcurrencyMetrics `json:"concurrency"`
	}
	return jsoncodec.Marshal(snapshot{
		InvocationsProcessed: a.InvocationsProcessed,
		InvocationsFailed:    a.InvocationsFailed,
		TotalProcessingTime:  a.TotalProcessingTime,
		LastInvokedAt:        a.LastInvokedAt,
		Latency:              a.Latency,
		Throughput:           a.Throughput,
		Errors:               a.Errors,
		Resource:             a.Resource,
		Concurrency:          a.Concurrency,
	})
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryParse:
		e.Parse++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryResolution:
		e.Resolution++
	case ErrorCategoryAction:
		e.Action++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// defaultErrorClassifier picks the most specific category in the chain: a
// parse failure is also a resolution failure, and is counted as parse.
func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var parseErr *errspkg.PayloadParseError
	if errors.As(err, &parseErr) {
		return ErrorCategoryParse
	}
	var invalidErr *errspkg.InvalidPayloadError
	if errors.As(err, &invalidErr) {
		return ErrorCategoryValidation
	}
	var resErr *errspkg.ResolutionError
	if errors.As(err, &resErr) {
		return ErrorCategoryResolution
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryOther
	}
	var actionErr *errspkg.ActionError
	if errors.As(err, &actionErr) {
		return ErrorCategoryAction
	}
	return ErrorCategoryOther
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	metrics.LastNs = lw.last
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

// percentile interpolates linearly between the two closest ranks.
func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)
	cutoff := now.Add(-tw.horizon)
	idx := sort.Search(len(tw.samples), func(i int) bool { return !tw.samples[i].Before(cutoff) })
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}
