package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/browserpilot/engine/session/events"
)

func TestCollector_SubscribeTracksStateTransitions(t *testing.T) {
	bus := events.New()
	c := NewCollector("browserpilot_test_collector", zap.NewNop())
	unsub := c.Subscribe(bus)
	defer unsub()

	bus.Publish(events.Event{Kind: events.KindStateChanged, Payload: map[string]any{"from": "IDLE", "to": "PLANNING"}})
	time.Sleep(20 * time.Millisecond)

	count := testutil.ToFloat64(c.stateTransitions.WithLabelValues("IDLE", "PLANNING"))
	assert.Equal(t, float64(1), count)
}

func TestCollector_ObserveHTTP(t *testing.T) {
	c := NewCollector("browserpilot_test_http", zap.NewNop())
	c.ObserveHTTP("GET", "/sessions", "200", 0.01)
}
