// Package messaging links the dashboard to the footfall service over NATS:
// live entry/exit events come in, ROI saves go out.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dj-oyu/footfall-dashboard/internal/config"
	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/roi"
)

const (
	KindNewEvent    = "new_event"
	KindDataUpdated = "data_updated"
)

// LiveEvent is a push notification from the footfall service.
type LiveEvent struct {
	Kind  string          `json:"kind"`
	Event *footfall.Event `json:"event,omitempty"`
}

// DecodeLiveEvent accepts either an envelope {"kind": ..., "event": ...} or
// a bare event object, which is treated as new_event.
func DecodeLiveEvent(data []byte) (LiveEvent, error) {
	var ev LiveEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return LiveEvent{}, fmt.Errorf("%w: live event: %v", footfall.ErrMalformed, err)
	}
	switch ev.Kind {
	case KindNewEvent, KindDataUpdated:
		return ev, nil
	case "":
		var bare footfall.Event
		if err := json.Unmarshal(data, &bare); err != nil || bare.Timestamp == "" {
			return LiveEvent{}, fmt.Errorf("%w: live event without kind", footfall.ErrMalformed)
		}
		return LiveEvent{Kind: KindNewEvent, Event: &bare}, nil
	default:
		return LiveEvent{}, fmt.Errorf("%w: unknown live event kind %q", footfall.ErrMalformed, ev.Kind)
	}
}

// ROISaved is published after a configuration is persisted.
type ROISaved struct {
	SessionID string               `json:"session_id"`
	Config    footfall.ROIDocument `json:"config"`
	SavedAt   time.Time            `json:"saved_at"`
}

type Service struct {
	conn *nats.Conn
	cfg  config.Config
}

func NewService(cfg config.Config) (*Service, error) {
	if cfg.NatsURL == "" {
		return nil, errors.New("NATS URL not configured")
	}
	opts := []nats.Option{
		nats.Name("footfall-dashboard"),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Messaging", "Disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Messaging", "Reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.NatsURL, err)
	}

	logger.Info("Messaging", "NATS connection established (%s)", cfg.NatsURL)
	return &Service{conn: conn, cfg: cfg}, nil
}

func (s *Service) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.conn.Publish(subject, payload)
}

// PublishROISaved announces a saved configuration on the ROI subject.
func (s *Service) PublishROISaved(sessionID string, cfg roi.Config, savedAt time.Time) error {
	return s.Publish(s.cfg.NatsROISubject, ROISaved{
		SessionID: sessionID,
		Config:    footfall.ROIDocument{Config: cfg},
		SavedAt:   savedAt,
	})
}

// SubscribeLive delivers decoded live events. Malformed messages are
// logged and dropped.
func (s *Service) SubscribeLive(handler func(LiveEvent)) (*nats.Subscription, error) {
	return s.conn.Subscribe(s.cfg.NatsEventsSubject, func(msg *nats.Msg) {
		ev, err := DecodeLiveEvent(msg.Data)
		if err != nil {
			logger.Warn("Messaging", "Dropping message on %s: %v", msg.Subject, err)
			return
		}
		handler(ev)
	})
}

func (s *Service) IsConnected() bool {
	return s != nil && s.conn != nil && s.conn.IsConnected()
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s == nil || s.conn == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		if err := s.conn.Drain(); err != nil {
			logger.Warn("Messaging", "Failed to drain NATS connection gracefully, closing immediately: %v", err)
			s.conn.Close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.conn.Close()
	}
	return nil
}
