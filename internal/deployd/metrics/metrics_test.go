package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	c.RecordTransition("local", "stopped", "starting")
	c.RecordTransition("local", "stopped", "starting")
	c.RecordRejected("cloud", "start", "StateConflict")
	c.RecordProcessExit("local", false)
	c.RecordDrop()
	c.SetObservers(3)
	c.RecordProbe("GET", "/health", 20*time.Millisecond, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Transitions.WithLabelValues("local", "stopped", "starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RejectedCommands.WithLabelValues("cloud", "start", "StateConflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ProcessExits.WithLabelValues("local", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BroadcastDrops))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Observers))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ProbeResults.WithLabelValues("GET", "/health", "true")))

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "deployd_state_transitions_total")
	assert.Contains(t, string(body), "deployd_observers 3")
}
