package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/footfall-dashboard/internal/config"
	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/roi"
)

func TestDecodeLiveEventEnvelope(t *testing.T) {
	ev, err := DecodeLiveEvent([]byte(`{"kind":"new_event","event":{"id":3,"timestamp":"2026-03-01T10:00:00","event_type":"entry"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindNewEvent, ev.Kind)
	require.NotNil(t, ev.Event)
	assert.Equal(t, 3, ev.Event.ID)

	ev, err = DecodeLiveEvent([]byte(`{"kind":"data_updated"}`))
	require.NoError(t, err)
	assert.Equal(t, KindDataUpdated, ev.Kind)
	assert.Nil(t, ev.Event)
}

func TestDecodeLiveEventBare(t *testing.T) {
	ev, err := DecodeLiveEvent([]byte(`{"id":9,"timestamp":"2026-03-01T10:00:00","event_type":"exit"}`))
	require.NoError(t, err)
	assert.Equal(t, KindNewEvent, ev.Kind)
	assert.Equal(t, "exit", ev.Event.EventType)
}

func TestDecodeLiveEventRejects(t *testing.T) {
	for _, body := range []string{`nope`, `{}`, `{"kind":"mystery"}`} {
		_, err := DecodeLiveEvent([]byte(body))
		assert.ErrorIs(t, err, footfall.ErrMalformed, body)
	}
}

func TestROISavedWireFormat(t *testing.T) {
	msg := ROISaved{
		SessionID: "abc",
		Config:    footfall.ROIDocument{Config: roi.DefaultConfig()},
		SavedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"session_id": "abc",
		"config": {"line_points": [[300,150],[300,310]], "polygon_points": [[50,100],[590,100],[590,320],[50,320]]},
		"saved_at": "2026-03-01T00:00:00Z"
	}`, string(data))
}

func TestNewServiceRequiresURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NatsURL = ""
	_, err := NewService(cfg)
	assert.Error(t, err)
}

func TestNewServiceUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NatsURL = "nats://127.0.0.1:1"
	cfg.NatsConnectTimeout = 200 * time.Millisecond
	_, err := NewService(cfg)
	assert.Error(t, err)
}

func TestNilServiceIsSafe(t *testing.T) {
	var s *Service
	assert.False(t, s.IsConnected())
	assert.NoError(t, s.Shutdown(context.Background()))
}
