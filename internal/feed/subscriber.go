package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Handler receives decoded feed events.
type Handler func(ev Event)

// Subscriber fans feed events out to a handler, used by the gateway to
// push changes to websocket clients.
type Subscriber struct {
	nc      *nats.Conn
	handler Handler
	subs    []*nats.Subscription
}

// NewSubscriber creates a subscriber on an existing connection.
func NewSubscriber(nc *nats.Conn, handler Handler) *Subscriber {
	return &Subscriber{nc: nc, handler: handler}
}

// Start subscribes to every group and user subject.
func (s *Subscriber) Start() error {
	for _, subject := range []string{groupSubjectPrefix + ">", userSubjectPrefix + ">"} {
		sub, err := s.nc.Subscribe(subject, s.handleMsg)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Subscriber) handleMsg(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("unmarshal feed event")
		return
	}
	// Fill the routing id from the subject when the envelope omits it, so
	// hand-published events still route.
	if ev.GroupID == "" && strings.HasPrefix(msg.Subject, groupSubjectPrefix) {
		ev.GroupID = strings.TrimPrefix(msg.Subject, groupSubjectPrefix)
	}
	if ev.UserID == "" && strings.HasPrefix(msg.Subject, userSubjectPrefix) {
		ev.UserID = strings.TrimPrefix(msg.Subject, userSubjectPrefix)
	}
	s.handler(ev)
}

// Stop unsubscribes from all subjects.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("feed unsubscribe failed")
		}
	}
	s.subs = nil
}
