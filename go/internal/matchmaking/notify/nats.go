package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"
)

// NATSConfig holds configuration for the NATS notification publisher
type NATSConfig struct {
	URL           string
	SubjectPrefix string // e.g. "codeduel.events"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS publisher configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "codeduel.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Publisher is the subset of *nats.Conn used by NATSNotifier
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NATSNotifier publishes notifications as JSON so presenters outside this
// process (desktop notifications, overlays) can subscribe to them.
//
// Subjects: <prefix>.<user_id>.achievement, <prefix>.<user_id>.completed,
// <prefix>.<user_id>.advisory
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

// NewNATSNotifier wraps an existing publisher
func NewNATSNotifier(pub Publisher, subjectPrefix string) *NATSNotifier {
	return &NATSNotifier{pub: pub, prefix: subjectPrefix}
}

// ConnectNATS dials NATS with the reconnect and logging options used across the project
func ConnectNATS(config NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("codeduel-client"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
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

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// AchievementEvent is published for each unlocked achievement
type AchievementEvent struct {
	UserID      int64                `json:"user_id"`
	MatchID     int64                `json:"match_id"`
	Achievement protocol.Achievement `json:"achievement"`
	At          time.Time            `json:"at"`
}

// CompletedEvent is published when a match finishes
type CompletedEvent struct {
	UserID    int64              `json:"user_id"`
	MatchID   int64              `json:"match_id"`
	Result    string             `json:"result"`
	EloChange protocol.EloChange `json:"elo_change,omitempty"`
	Unlocked  int                `json:"achievements_unlocked"`
	At        time.Time          `json:"at"`
}

// AdvisoryEvent is published for queue advisories
type AdvisoryEvent struct {
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	DisplayMS int64     `json:"display_ms"`
	At        time.Time `json:"at"`
}

// Subject builds the subject for a user-scoped event
func (n *NATSNotifier) Subject(userID int64, event string) string {
	return fmt.Sprintf("%s.%d.%s", n.prefix, userID, event)
}

func (n *NATSNotifier) AchievementUnlocked(userID, matchID int64, a protocol.Achievement) {
	n.publish(n.Subject(userID, "achievement"), AchievementEvent{
		UserID:      userID,
		MatchID:     matchID,
		Achievement: a,
		At:          time.Now().UTC(),
	})
}

func (n *NATSNotifier) MatchCompleted(userID int64, r protocol.MatchCompleted) {
	n.publish(n.Subject(userID, "completed"), CompletedEvent{
		UserID:    userID,
		MatchID:   r.MatchID,
		Result:    r.Result,
		EloChange: r.EloChange,
		Unlocked:  len(r.AchievementsUnlocked),
		At:        time.Now().UTC(),
	})
}

func (n *NATSNotifier) Advisory(userID int64, a Advisory) {
	n.publish(n.Subject(userID, "advisory"), AdvisoryEvent{
		UserID:    userID,
		Kind:      a.Kind,
		Title:     a.Title,
		Message:   a.Message,
		DisplayMS: a.Display.Milliseconds(),
		At:        time.Now().UTC(),
	})
}

// publish never fails the caller; notifications are best effort
func (n *NATSNotifier) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to marshal notification")
		return
	}
	if err := n.pub.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to publish notification")
		return
	}
	log.Debug().Str("subject", subject).Msg("notification published")
}
