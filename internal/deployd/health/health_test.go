package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) SetDatabaseHealth(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.states...)
}

type fakeConn struct {
	pingErr error
	closed  bool
}

func (c *fakeConn) Ping(context.Context) error  { return c.pingErr }
func (c *fakeConn) Close(context.Context) error { c.closed = true; return nil }

func TestCheck(t *testing.T) {
	c := NewDatabaseChecker("postgres://app@db/app", time.Second, &recorder{})

	conn := &fakeConn{}
	c.connect = func(context.Context, string) (pinger, error) { return conn, nil }
	assert.Equal(t, deploy.DatabaseConnected, c.Check(context.Background()))
	assert.True(t, conn.closed)

	conn = &fakeConn{pingErr: errors.New("server closed the connection")}
	assert.Equal(t, deploy.DatabaseDisconnected, c.Check(context.Background()))

	c.connect = func(context.Context, string) (pinger, error) { return nil, errors.New("connection refused") }
	assert.Equal(t, deploy.DatabaseDisconnected, c.Check(context.Background()))
}

func TestCheckUnreachableDatabase(t *testing.T) {
	c := NewDatabaseChecker("postgres://app@127.0.0.1:1/app?connect_timeout=1", time.Second, &recorder{})
	assert.Equal(t, deploy.DatabaseDisconnected, c.Check(context.Background()))
}

func TestRunWithoutURL(t *testing.T) {
	r := &recorder{}
	c := NewDatabaseChecker("", 0, r)
	require.NoError(t, c.Run(context.Background()))
	assert.Empty(t, r.get())
	assert.Equal(t, deploy.HealthUnknown, c.Check(context.Background()))
}

func TestRunRecordsUntilCancelled(t *testing.T) {
	r := &recorder{}
	c := NewDatabaseChecker("postgres://app@db/app", 10*time.Millisecond, r)
	c.connect = func(context.Context, string) (pinger, error) { return &fakeConn{}, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.get()) >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	for _, s := range r.get() {
		assert.Equal(t, deploy.DatabaseConnected, s)
	}
}
