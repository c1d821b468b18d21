package dispatch_test

import (
	"errors"
	"testing"
	"time"

	"github.com/meshline/fabric/dispatch"
)

type recordingCollector struct {
	path string
	err  error
	n    int
}

func (c *recordingCollector) DispatchProcessed(path string, duration time.Duration, err error) {
	c.path = path
	c.err = err
	c.n++
}

func TestDispatchWithMetricsRecordsPathAndOutcome(t *testing.T) {
	c := &recordingCollector{}
	err := dispatch.DispatchWithMetrics(c, []string{"location", "enter"}, func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.n != 1 || c.path != "location.enter" || c.err != nil {
		t.Fatalf("unexpected collector state: %+v", c)
	}
}

func TestDispatchWithMetricsRecordsFailure(t *testing.T) {
	c := &recordingCollector{}
	boom := errors.New("boom")
	err := dispatch.DispatchWithMetrics(c, []string{"echo"}, func() error { return boom })
	if err != boom {
		t.Fatalf("expected the underlying error to propagate, got %v", err)
	}
	if c.err != boom {
		t.Fatalf("expected collector to record the failure, got %v", c.err)
	}
}

func TestDispatchWithMetricsToleratesNilCollector(t *testing.T) {
	if err := dispatch.DispatchWithMetrics(nil, []string{"echo"}, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
