package observability

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/tether/internal/core/eventbus"
)

func TestMetrics_ScrapeReflectsEvents(t *testing.T) {
	bus := eventbus.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	m := New(func() float64 { return 3 }, func() float64 { return float64(bus.Dropped()) })
	m.Bind(bus)

	bus.PublishJobExecuted(eventbus.JobExecutedPayload{Command: "ping", Status: "success", Duration: time.Millisecond})
	bus.PublishTaskClosed(eventbus.TaskClosedPayload{TaskID: "t1", Truncated: true})
	bus.PublishTaskUndone(eventbus.TaskUndonePayload{TaskID: "t1", Restored: 2, Failed: 1})

	// Dispatch is asynchronous; poll the scrape until the counters land.
	deadline := time.After(2 * time.Second)
	for {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body := rec.Body.String()

		if strings.Contains(body, `tether_jobs_total{command="ping",status="success"} 1`) &&
			strings.Contains(body, "tether_tasks_closed_total 1") &&
			strings.Contains(body, "tether_tasks_truncated_total 1") &&
			strings.Contains(body, "tether_undo_restored_total 2") &&
			strings.Contains(body, "tether_undo_failed_total 1") {
			assert.Contains(t, body, "tether_bridge_queue_depth 3")
			return
		}

		select {
		case <-deadline:
			t.Fatalf("metrics never reflected events:\n%s", body)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMetrics_HandlerServesWithoutEvents(t *testing.T) {
	m := New(func() float64 { return 0 }, func() float64 { return 0 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "tether_bridge_queue_depth")
}
