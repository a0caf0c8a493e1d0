package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeDesk/internal/domain/models"
	"RegimeDesk/pkg/logger"
)

type capturePub struct {
	topic string
	key   []byte
	value interface{}
	err   error
}

func (c *capturePub) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	c.topic, c.key, c.value = topic, key, value
	return c.err
}

func TestKafkaNotifierPublishes(t *testing.T) {
	pub := &capturePub{}
	n := NewKafkaNotifier(pub, "regimedesk.notifications", "acct-1", time.Second, logger.NewNop())
	n.now = func() time.Time { return time.Date(2025, 3, 7, 20, 45, 0, 0, time.UTC) }

	n.Notify(context.Background(), models.NotifyWarning, "regime normal_bull -> defense_trigger", map[string]interface{}{"regime_id": "r2"})

	assert.Equal(t, "regimedesk.notifications", pub.topic)
	assert.Equal(t, []byte("acct-1"), pub.key)
	msg, ok := pub.value.(models.Notification)
	require.True(t, ok)
	assert.Equal(t, models.NotifyWarning, msg.Level)
	assert.Equal(t, "r2", msg.Fields["regime_id"])
}

func TestKafkaNotifierSwallowsErrors(t *testing.T) {
	pub := &capturePub{err: errors.New("broker down")}
	n := NewKafkaNotifier(pub, "t", "a", time.Second, logger.NewNop())
	assert.NotPanics(t, func() { n.Notify(context.Background(), models.NotifyError, "x", nil) })
}

func TestMultiFansOut(t *testing.T) {
	a, b := &capturePub{}, &capturePub{}
	m := Multi{
		NewKafkaNotifier(a, "one", "acct", time.Second, logger.NewNop()),
		NewLogNotifier(logger.NewNop()),
		NewKafkaNotifier(b, "two", "acct", time.Second, logger.NewNop()),
	}
	m.Notify(context.Background(), models.NotifyInfo, "cycle complete", nil)
	assert.Equal(t, "one", a.topic)
	assert.Equal(t, "two", b.topic)
}
