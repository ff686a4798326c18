package controller

import (
	"bytes"
	"testing"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	el := NewEventLogger(&logger)
	assert.Equal(t, "EventLogger", el.Name())

	e := deploy.NewLogEvent(deploy.LogEntry{Channel: deploy.TargetCloud, Severity: deploy.SeverityError, Service: "api", Message: "deployment failed"})
	require.NoError(t, el.ConsumeEvent(&e))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"channel":"cloud"`)
	assert.Contains(t, buf.String(), "deployment failed")

	buf.Reset()
	snapshot := deploy.Snapshot{
		Version: 4,
		Local:   deploy.NewStatus(deploy.TargetLocal),
		Cloud:   deploy.NewStatus(deploy.TargetCloud),
		Health:  deploy.Health{Database: deploy.DatabaseConnected, API: deploy.HealthUnknown},
	}
	e = deploy.NewStateEvent(snapshot)
	require.NoError(t, el.ConsumeEvent(&e))
	assert.Contains(t, buf.String(), "state 4: local=stopped cloud=not_deployed database=connected api=unknown")
}
