package controller

import (
	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/rs/zerolog"
)

// EventLogger is a subscriber for deployment events that mirrors them to the daemon log.
type EventLogger struct {
	logger *zerolog.Logger
}

func NewEventLogger(logger *zerolog.Logger) *EventLogger {
	return &EventLogger{
		logger: logger,
	}
}

func (s *EventLogger) Name() string {
	return "EventLogger"
}

func (s *EventLogger) ConsumeEvent(event *deploy.Event) error {
	switch data := event.Data.(type) {
	case deploy.LogEntry:
		e := s.logger.Debug()
		if data.Severity == deploy.SeverityError {
			e = s.logger.Warn()
		}
		e.Str("channel", string(data.Channel)).Str("service", data.Service).Msg(data.Message)
	case deploy.Snapshot:
		s.logger.Info().Msgf("state %d: local=%s cloud=%s database=%s api=%s",
			data.Version, data.Local.State, data.Cloud.State, data.Health.Database, data.Health.API)
	}
	return nil
}
