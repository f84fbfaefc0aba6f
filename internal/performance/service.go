package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventSuccess EventKind = "success"
	EventPause   EventKind = "pause"
	EventResume  EventKind = "resume"
)

type Event struct {
	Kind                   EventKind `json:"kind"`
	SessionID              string    `json:"session_id"`
	AggregatorConnectionID string    `json:"aggregator_connection_id,omitempty"`
	OccurredAt             time.Time `json:"occurred_at"`
}

// Service records connection performance events. Delivery is best effort:
// failures are logged and never returned to the caller.
type Service interface {
	RecordSuccessEvent(ctx context.Context, sessionID, aggregatorConnectionID string)
	RecordPauseEvent(ctx context.Context, sessionID string)
	RecordResumeEvent(ctx context.Context, sessionID string)
}

type service struct {
	logger    zerolog.Logger
	notifiers []Notifier
	now       func() time.Time
}

func NewService(logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		logger:    logger.With().Str("component", "performance_service").Logger(),
		notifiers: active,
		now:       time.Now,
	}
}

func (s *service) RecordSuccessEvent(ctx context.Context, sessionID, aggregatorConnectionID string) {
	s.publish(ctx, Event{Kind: EventSuccess, SessionID: sessionID, AggregatorConnectionID: aggregatorConnectionID})
}

func (s *service) RecordPauseEvent(ctx context.Context, sessionID string) {
	s.publish(ctx, Event{Kind: EventPause, SessionID: sessionID})
}

func (s *service) RecordResumeEvent(ctx context.Context, sessionID string) {
	s.publish(ctx, Event{Kind: EventResume, SessionID: sessionID})
}

func (s *service) publish(ctx context.Context, evt Event) {
	if evt.SessionID == "" {
		s.logger.Debug().Str("event", string(evt.Kind)).Msg("skipping performance event without session id")
		return
	}
	evt.OccurredAt = s.now().UTC()
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, evt); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), evt)
		}
	}
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
