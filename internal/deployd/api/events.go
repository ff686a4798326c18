package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/controller"
	"github.com/eagraf/habitat-deployd/internal/deployd/pubsub"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsRoute streams log and state events to an observer over a websocket. The stream is
// server to client only; anything the client sends is discarded.
type EventsRoute struct {
	controller   controller.DeploymentController
	pingInterval time.Duration
}

func NewEventsRoute(c controller.DeploymentController) *EventsRoute {
	return &EventsRoute{
		controller:   c,
		pingInterval: pingInterval,
	}
}

func (h *EventsRoute) Pattern() string {
	return "/ws"
}

func (h *EventsRoute) Method() string {
	return http.MethodGet
}

func (h *EventsRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade observer connection")
		return
	}

	id := uuid.New().String()
	queue := h.controller.Observe(id)
	log.Info().Msgf("observer %s connected from %s", id, r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.controller.Unobserve(id)
		conn.Close()
	}()

	go h.readLoop(ctx, cancel, conn)
	go h.pingLoop(ctx, cancel, conn)

	err = h.writeLoop(ctx, conn, queue)
	reason := deploy.NewError(deploy.CodeObserverDisconnected, "observer "+id+" disconnected", err)
	log.Info().Msg(reason.Error())
}

// readLoop only exists to process control frames; a read error means the observer went
// away.
func (h *EventsRoute) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	for ctx.Err() == nil {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventsRoute) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cancel()
				return
			}
		}
	}
}

func (h *EventsRoute) writeLoop(ctx context.Context, conn *websocket.Conn, queue *pubsub.Queue[deploy.Event]) error {
	for {
		event, err := queue.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return errors.New("connection closed")
			}
			return err
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			return err
		}
	}
}
