// Package feed publishes ledger changes over NATS so connected clients
// learn about group and user updates without polling. The feed is a hint
// channel, not a source of truth: a missed event costs a client one
// refetch, so plain core NATS without persistence is enough.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	groupSubjectPrefix = "study.groups."
	userSubjectPrefix  = "study.users."
)

// Event is the wire envelope for one ledger change. Exactly one of GroupID
// and UserID is set, depending on the subject the event rode in on.
type Event struct {
	EventID   string    `json:"eventId"`
	Change    string    `json:"change"`
	GroupID   string    `json:"groupId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	MemberID  string    `json:"memberId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns settings suitable for a local broker.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Feed is a connected publisher. It satisfies the notifier interfaces of
// the group and shop services.
type Feed struct {
	nc *nats.Conn
}

// Connect dials the broker with automatic reconnection.
func Connect(cfg Config) (*Feed, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Feed{nc: nc}, nil
}

// GroupChanged publishes a group ledger change. Publish failures are
// logged and swallowed: the ledger write already committed and the feed
// must not fail it retroactively.
func (f *Feed) GroupChanged(ctx context.Context, groupID, change, memberID string) {
	ev := Event{
		EventID:   uuid.NewString(),
		Change:    change,
		GroupID:   groupID,
		MemberID:  memberID,
		Timestamp: time.Now().UTC(),
	}
	f.publish(groupSubjectPrefix+groupID, ev)
}

// UserChanged publishes an inventory or effects change for one user.
func (f *Feed) UserChanged(ctx context.Context, uid, change string) {
	ev := Event{
		EventID:   uuid.NewString(),
		Change:    change,
		UserID:    uid,
		Timestamp: time.Now().UTC(),
	}
	f.publish(userSubjectPrefix+uid, ev)
}

func (f *Feed) publish(subject string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("marshal feed event")
		return
	}
	if err := f.nc.Publish(subject, data); err != nil {
		log.Warn().
			Err(err).
			Str("subject", subject).
			Str("change", ev.Change).
			Msg("feed publish failed")
		return
	}
	log.Debug().
		Str("subject", subject).
		Str("change", ev.Change).
		Msg("feed event published")
}

// Conn exposes the underlying connection for subscribers.
func (f *Feed) Conn() *nats.Conn {
	return f.nc
}

// Close drains the connection.
func (f *Feed) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}
