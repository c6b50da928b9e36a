package gateway

import (
	"context"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/feed"
)

// Service bridges the NATS change feed to websocket clients.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	subscriber        *feed.Subscriber
}

// NewService creates the gateway. nc may be nil when no broker is
// configured; the websocket endpoints still serve, they just never
// receive feed events.
func NewService(config ConnectionConfig, nc *nats.Conn) *Service {
	cm := NewConnectionManager(config)
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
	}
	if nc != nil {
		s.subscriber = feed.NewSubscriber(nc, s.handleEvent)
	}
	return s
}

func (s *Service) handleEvent(ev feed.Event) {
	if ev.GroupID != "" {
		s.connectionManager.Broadcast(GroupTopic(ev.GroupID), Message{Type: "group_changed", Event: ev})
	}
	if ev.UserID != "" {
		s.connectionManager.Broadcast(UserTopic(ev.UserID), Message{Type: "user_changed", Event: ev})
	}
}

// Start runs the broadcast loop and the feed subscription until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")

	go s.connectionManager.Start(ctx)

	if s.subscriber != nil {
		if err := s.subscriber.Start(); err != nil {
			return err
		}
	}

	<-ctx.Done()

	if s.subscriber != nil {
		s.subscriber.Stop()
	}
	log.Info().Msg("gateway service stopped")
	return nil
}

// RegisterRoutes registers the websocket routes on the mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("gateway routes registered")
}
