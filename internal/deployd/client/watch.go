package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is a decoded observer message. Exactly one of Log and State is set.
type Event struct {
	Type  deploy.EventType
	Log   *deploy.LogEntry
	State *deploy.Snapshot
}

type rawEvent struct {
	Type deploy.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

func decodeEvent(data []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	e := &Event{Type: raw.Type}
	switch raw.Type {
	case deploy.EventLog:
		e.Log = &deploy.LogEntry{}
		if err := json.Unmarshal(raw.Data, e.Log); err != nil {
			return nil, err
		}
	case deploy.EventState:
		e.State = &deploy.Snapshot{}
		if err := json.Unmarshal(raw.Data, e.State); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", raw.Type)
	}
	return e, nil
}

func (c *Client) eventsURL() string {
	return "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
}

// Watch streams observer events to fn until ctx is done, the connection drops or fn
// returns an error. Cancelling ctx is not an error.
func (c *Client) Watch(ctx context.Context, fn func(*Event) error) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.eventsURL(), nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.eventsURL(), err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		e, err := decodeEvent(data)
		if err != nil {
			log.Warn().Err(err).Msg("skipping undecodable event")
			continue
		}
		if err := fn(e); err != nil {
			if errors.Is(err, ErrStopWatching) {
				return nil
			}
			return err
		}
	}
}

// ErrStopWatching can be returned by a Watch callback to end the stream without error.
var ErrStopWatching = errors.New("stop watching")
