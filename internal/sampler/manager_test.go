package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingAppender struct {
	mu      sync.Mutex
	rows    []Sample
	failErr error
}

func (a *recordingAppender) Append(_ context.Context, sample Sample) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	a.rows = append(a.rows, sample)
	return nil
}

func (a *recordingAppender) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

const goodBody = `{"aveWaitMin":41.2,"patientCount":7,"longestWaitMin":95,"lastUpdated":"x"}`

func newManagerForTest(t *testing.T, body string, appender Appender, maxHistory int) (*Manager, *Reader) {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body == "" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader, err := NewReader(ts.URL, 5*time.Second, time.UTC, logger)
	if err != nil {
		t.Fatalf("NewReader returned error: %v", err)
	}

	manager, err := NewManager(15*time.Millisecond, reader, appender, maxHistory, logger)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return manager, reader
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestRunOnceAppendsAndPublishes(t *testing.T) {
	t.Parallel()

	appender := &recordingAppender{}
	manager, _ := newManagerForTest(t, goodBody, appender, 10)

	sample, err := manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if sample.PatientCount != 7 || sample.AvgWaitMinutes != 41.2 || sample.LongestWaitMinutes != 95 {
		t.Fatalf("unexpected sample %+v", sample)
	}

	if appender.count() != 1 {
		t.Fatalf("appender recorded %d rows, want 1", appender.count())
	}

	latest, ok := manager.Latest()
	if !ok || latest.PatientCount != 7 {
		t.Fatalf("Latest did not return the sample: %+v ok=%v", latest, ok)
	}
	if !manager.Ready() {
		t.Fatalf("manager should be ready after a successful tick")
	}

	stats := manager.Stats()
	if stats.Ticks != 1 || stats.Appends != 1 || stats.TickErrors != 0 || stats.AppendErrors != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunOnceFetchFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	appender := &recordingAppender{}
	manager, _ := newManagerForTest(t, "", appender, 10)

	if _, err := manager.RunOnce(context.Background()); err == nil {
		t.Fatalf("RunOnce should fail when the source is unavailable")
	}

	if appender.count() != 0 {
		t.Fatalf("appender recorded %d rows, want 0", appender.count())
	}
	if _, ok := manager.Latest(); ok {
		t.Fatalf("Latest should be empty after a failed tick")
	}
	if manager.Ready() {
		t.Fatalf("manager should not be ready after a failed tick")
	}

	stats := manager.Stats()
	if stats.TickErrors != 1 || stats.ConsecutiveFailures != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunOnceAppendFailureDoesNotPublish(t *testing.T) {
	t.Parallel()

	appender := &recordingAppender{failErr: errors.New("disk full")}
	manager, _ := newManagerForTest(t, goodBody, appender, 10)

	if _, err := manager.RunOnce(context.Background()); err == nil {
		t.Fatalf("RunOnce should surface the append failure")
	}

	if _, ok := manager.Latest(); ok {
		t.Fatalf("a sample that was not durably appended must not be published")
	}

	stats := manager.Stats()
	if stats.AppendErrors != 1 || stats.Appends != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFailStreakResetsOnSuccess(t *testing.T) {
	t.Parallel()

	appender := &recordingAppender{failErr: errors.New("transient")}
	manager, _ := newManagerForTest(t, goodBody, appender, 10)

	for i := 0; i < 3; i++ {
		_, _ = manager.RunOnce(context.Background())
	}
	if got := manager.Stats().ConsecutiveFailures; got != 3 {
		t.Fatalf("ConsecutiveFailures = %d, want 3", got)
	}

	appender.mu.Lock()
	appender.failErr = nil
	appender.mu.Unlock()

	if _, err := manager.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if got := manager.Stats().ConsecutiveFailures; got != 0 {
		t.Fatalf("ConsecutiveFailures = %d, want 0 after success", got)
	}
}

func TestHistoryCapsAtMaxPoints(t *testing.T) {
	t.Parallel()

	appender := &recordingAppender{}
	manager, reader := newManagerForTest(t, goodBody, appender, 3)

	base := time.Date(2020, 1, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	reader.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 15 * time.Minute)
	}

	for i := 0; i < 5; i++ {
		if _, err := manager.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce #%d returned error: %v", i, err)
		}
	}

	history := manager.History()
	if len(history) != 3 {
		t.Fatalf("history holds %d samples, want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if !history[i-1].Timestamp.Before(history[i].Timestamp) {
			t.Fatalf("history out of order: %v then %v", history[i-1].Timestamp, history[i].Timestamp)
		}
	}
	if want := base.Add(3 * 15 * time.Minute); !history[0].Timestamp.Equal(want) {
		t.Fatalf("oldest retained sample at %v, want %v", history[0].Timestamp, want)
	}
}

func TestSubscribeDeliversSamples(t *testing.T) {
	t.Parallel()

	appender := &recordingAppender{}
	manager, _ := newManagerForTest(t, goodBody, appender, 10)

	if _, err := manager.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	ch, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	select {
	case sample := <-ch:
		if sample.PatientCount != 7 {
			t.Fatalf("unexpected sample %+v", sample)
		}
	case <-time.After(time.Second):
		t.Fatalf("latest sample was not delivered on subscribe")
	}

	if _, err := manager.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	select {
	case sample := <-ch:
		if sample.PatientCount != 7 {
			t.Fatalf("unexpected sample %+v", sample)
		}
	case <-time.After(time.Second):
		t.Fatalf("new sample was not delivered to subscriber")
	}
}

func TestRunLoopTicks(t *testing.T) {
	t.Parallel()

	appender := &recordingAppender{}
	manager, _ := newManagerForTest(t, goodBody, appender, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- manager.Run(ctx)
	}()

	waitFor(t, time.Second, func() bool { return appender.count() >= 2 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}
