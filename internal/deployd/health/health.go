package health

import (
	"context"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval = 30 * time.Second
	pingTimeout     = 5 * time.Second
)

// Recorder receives the outcome of every check.
type Recorder interface {
	SetDatabaseHealth(state string)
}

type pinger interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type connectFunc func(ctx context.Context, url string) (pinger, error)

func pgxConnect(ctx context.Context, url string) (pinger, error) {
	return pgx.Connect(ctx, url)
}

// DatabaseChecker periodically verifies that the application database accepts
// connections. It does not inspect the schema.
type DatabaseChecker struct {
	url      string
	interval time.Duration
	recorder Recorder
	connect  connectFunc
}

func NewDatabaseChecker(url string, interval time.Duration, recorder Recorder) *DatabaseChecker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &DatabaseChecker{
		url:      url,
		interval: interval,
		recorder: recorder,
		connect:  pgxConnect,
	}
}

// Check connects, pings and closes once, and returns the resulting database state.
func (c *DatabaseChecker) Check(ctx context.Context) string {
	if c.url == "" {
		return deploy.HealthUnknown
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	conn, err := c.connect(ctx, c.url)
	if err != nil {
		log.Warn().Err(err).Msg("database unreachable")
		return deploy.DatabaseDisconnected
	}
	defer conn.Close(context.Background())

	if err := conn.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("database ping failed")
		return deploy.DatabaseDisconnected
	}
	return deploy.DatabaseConnected
}

// Run checks immediately and then every interval until ctx is done. Without a database
// URL the health stays unknown and Run returns right away.
func (c *DatabaseChecker) Run(ctx context.Context) error {
	if c.url == "" {
		log.Info().Msg("no database url configured, skipping database health checks")
		return nil
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.recorder.SetDatabaseHealth(c.Check(ctx))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
