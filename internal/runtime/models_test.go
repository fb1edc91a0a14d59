package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
)

func TestActionStatsCollectsExtendedMetrics(t *testing.T) {
	stats := newActionStats(newResourceTracker())

	stats.onInvocationStart()
	stats.onInvocationStart()
	stats.onInvocationFinish(5*time.Millisecond, &errspkg.ActionError{Action: "save", Err: errors.New("db down")}, nil)
	stats.onInvocationFinish(3*time.Millisecond, nil, nil)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	if stats.InvocationsProcessed != 2 {
		t.Fatalf("expected 2 processed invocations, got %d", stats.InvocationsProcessed)
	}
	if stats.InvocationsFailed != 1 {
		t.Fatalf("expected failure count to increment, got %d", stats.InvocationsFailed)
	}
	if stats.Concurrency.InFlight != 0 || stats.Concurrency.MaxInFlight != 2 {
		t.Fatalf("unexpected concurrency metrics: %+v", stats.Concurrency)
	}
	if stats.Errors.Action != 1 {
		t.Fatalf("expected action bucket to increment, got %+v", stats.Errors)
	}
	if !strings.Contains(stats.Errors.LastError, "db down") {
		t.Fatalf("expected last error to be recorded, got %q", stats.Errors.LastError)
	}
	if stats.Throughput.TotalInvocations != 2 {
		t.Fatalf("expected throughput total to track processed invocations")
	}
	if stats.Latency.SampleSize != 2 || stats.Latency.LastNs != int64(3*time.Millisecond) {
		t.Fatalf("unexpected latency metrics: %+v", stats.Latency)
	}
	if stats.Latency.AverageNs != int64(4*time.Millisecond) {
		t.Fatalf("expected average latency of 4ms, got %d", stats.Latency.AverageNs)
	}
	if stats.Resource.Goroutines == 0 {
		t.Fatalf("expected resource usage to be sampled")
	}
}

func TestDefaultErrorClassifier(t *testing.T) {
	parse := &errspkg.ResolutionError{Action: "a", Err: &errspkg.PayloadParseError{Raw: "{", Err: errors.New("eof")}}
	invalid := &errspkg.ResolutionError{Action: "a", Err: &errspkg.InvalidPayloadError{Err: errors.New("too short")}}

	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrorCategoryNone},
		{"parse inside resolution", parse, ErrorCategoryParse},
		{"validation inside resolution", invalid, ErrorCategoryValidation},
		{"resolution", &errspkg.ResolutionError{Action: "a", Err: errspkg.ErrConnectionRequired}, ErrorCategoryResolution},
		{"action", &errspkg.ActionError{Action: "a", Err: errors.New("boom")}, ErrorCategoryAction},
		{"cancelled action", &errspkg.ActionError{Action: "a", Err: context.Canceled}, ErrorCategoryOther},
		{"wrapped", fmt.Errorf("outer: %w", parse), ErrorCategoryParse},
		{"plain", errors.New("plain"), ErrorCategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultErrorClassifier(tt.err); got != tt.want {
				t.Fatalf("defaultErrorClassifier() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorBreakdownRecord(t *testing.T) {
	var breakdown ErrorBreakdown
	breakdown.Record(ErrorCategoryNone, nil)
	breakdown.Record(ErrorCategoryNone, errors.New("unclassified"))
	breakdown.Record(ErrorCategoryParse, errors.New("p"))
	breakdown.Record(ErrorCategoryValidation, errors.New("v"))
	breakdown.Record(ErrorCategoryResolution, errors.New("r"))
	breakdown.Record(ErrorCategory("custom"), errors.New("c"))

	want := ErrorBreakdown{Parse: 1, Validation: 1, Resolution: 1, Other: 2, LastError: "c"}
	if breakdown != want {
		t.Fatalf("Record() = %+v, want %+v", breakdown, want)
	}
}

func TestActionStatsMarshalJSON(t *testing.T) {
	stats := newActionStats(nil)
	stats.onInvocationStart()
	stats.onInvocationFinish(time.Millisecond, nil, nil)

	data, err := jsoncodec.Marshal(ActionInfo{Controller: "chat", Name: "say", Kind: "message", Event: "say", Stats: stats})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"controller":"chat"`, `"invocations_processed":1`, `"max_in_flight":1`, `"p99_ns"`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("expected %s in %s", key, data)
		}
	}
}

func TestPercentile(t *testing.T) {
	samples := []int64{10, 20, 30, 40}
	if got := percentile(samples, 0); got != 10 {
		t.Fatalf("p0 = %d", got)
	}
	if got := percentile(samples, 1); got != 40 {
		t.Fatalf("p100 = %d", got)
	}
	if got := percentile(samples, 0.5); got != 25 {
		t.Fatalf("p50 = %d, want 25", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("empty percentile = %d", got)
	}
}

func TestThroughputWindowDropsOldSamples(t *testing.T) {
	tw := newThroughputWindow(time.Second)
	start := time.Now()
	tw.AddAndSnapshot(start)
	tw.AddAndSnapshot(start.Add(500 * time.Millisecond))
	snap := tw.AddAndSnapshot(start.Add(2 * time.Second))

	if snap.Count != 1 {
		t.Fatalf("expected samples older than the horizon to be dropped, got %d", snap.Count)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	lw := newLatencyWindow(2)
	lw.Add(time.Millisecond)
	lw.Add(2 * time.Millisecond)
	lw.Add(4 * time.Millisecond)

	snap := lw.Snapshot()
	if snap.SampleSize != 2 {
		t.Fatalf("expected the window to hold 2 samples, got %d", snap.SampleSize)
	}
	if snap.AverageNs != int64(3*time.Millisecond) {
		t.Fatalf("expected the oldest sample to be evicted, average %d", snap.AverageNs)
	}
	if snap.LastNs != int64(4*time.Millisecond) {
		t.Fatalf("unexpected last sample %d", snap.LastNs)
	}
}
