package bus

import (
	"errors"
	"fmt"
	"math"

	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/metrics"
	"github.com/aatumaykin/nexbackup/internal/session"
)

// ErrProgressOutOfRange is returned for progress values outside [0,1].
var ErrProgressOutOfRange = errors.New("progress must be between 0.0 and 1.0")

// Publisher is what job producers depend on.
type Publisher interface {
	PublishProgress(userID, token string, progress float64) error
	PublishMessage(userID, text string, level Level) error
}

// Bus is a Publisher over a session registry.
type Bus struct {
	sessions *session.Registry
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

var _ Publisher = (*Bus)(nil)

func New(sessions *session.Registry, log *logger.Logger, m *metrics.Metrics) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{sessions: sessions, logger: log.Component("bus"), metrics: m}
}

// PublishProgress rejects values outside [0,1] before anything is enqueued,
// then delivers a progress event to the user's bound session, if any.
func (b *Bus) PublishProgress(userID, token string, progress float64) error {
	if math.IsNaN(progress) || progress < 0 || progress > 1 {
		b.metrics.BusEvent("progress", metrics.OutcomeRejected)
		return fmt.Errorf("%w: got %v", ErrProgressOutOfRange, progress)
	}
	return b.publish(userID, NewProgress(token, progress), "progress")
}

// PublishMessage delivers a text event to the user's bound session, if any.
func (b *Bus) PublishMessage(userID, text string, level Level) error {
	return b.publish(userID, NewMessage(text, level), "message")
}

func (b *Bus) publish(userID string, env Envelope, kind string) error {
	sessionID, ok := b.sessions.Resolve(userID)
	if !ok {
		b.drop(userID, kind, "no bound session")
		return nil
	}
	s, ok := b.sessions.Lookup(sessionID)
	if !ok {
		b.drop(userID, kind, "bound session gone")
		return nil
	}

	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Method, err)
	}

	res := s.Enqueue(session.Event{Method: env.Method, Data: data})
	switch {
	case !res.Accepted:
		b.metrics.BusEvent(kind, metrics.OutcomeOverflow)
		b.logger.Warn("session queue full, event dropped",
			logger.Field{Key: "user_id", Value: userID},
			logger.Field{Key: "session_id", Value: sessionID},
			logger.Field{Key: "kind", Value: kind})
	case res.Evicted:
		b.metrics.BusEvent(kind, metrics.OutcomeOverflow)
		b.metrics.BusEvent(kind, metrics.OutcomeDelivered)
		b.logger.Warn("session queue full, oldest event evicted",
			logger.Field{Key: "user_id", Value: userID},
			logger.Field{Key: "session_id", Value: sessionID})
	default:
		b.metrics.BusEvent(kind, metrics.OutcomeDelivered)
	}
	return nil
}

func (b *Bus) drop(userID, kind, reason string) {
	b.metrics.BusEvent(kind, metrics.OutcomeDropped)
	b.logger.Debug("event dropped",
		logger.Field{Key: "user_id", Value: userID},
		logger.Field{Key: "kind", Value: kind},
		logger.Field{Key: "reason", Value: reason})
}
