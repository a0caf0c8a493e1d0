package logger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewWritesJSONAtLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desk.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Debug("hidden")
	l.With(String("account", "acct-1")).Info("cycle done",
		Int("recommendations", 2),
		Duration("took", 1500*time.Millisecond),
		Decimal("credit", decimal.RequireFromString("0.55")),
	)
	l.Error("gateway down", Error(errors.New("dial tcp: refused")))

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "acct-1", lines[0]["account"])
	assert.Equal(t, float64(2), lines[0]["recommendations"])
	assert.Equal(t, "1.5s", lines[0]["took"])
	assert.Equal(t, "0.55", lines[0]["credit"])
	assert.Contains(t, lines[0]["caller"], "logger_test.go")
	assert.Equal(t, "dial tcp: refused", lines[1]["error"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
}

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
	topic   string
}

func (p *capturePublisher) Publish(_ context.Context, topic string, _ []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, value.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) all() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestCollectorAggregatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "desk.logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("snapshot stale", Int("attempt", i))
	}
	l.Warn("not collected")
	l.With(String("job", "expire")).Error("store unavailable")
	l.RemoveCollector()

	entries := pub.all()
	require.Len(t, entries, 2)
	assert.Equal(t, "desk.logs", pub.topic)
	byMsg := map[string]AggregatedLogEntry{}
	for _, e := range entries {
		byMsg[e.Message] = e
	}
	assert.Equal(t, 3, byMsg["snapshot stale"].Count)
	assert.Equal(t, 0, byMsg["snapshot stale"].Fields["attempt"])
	assert.Equal(t, 1, byMsg["store unavailable"].Count)
	assert.Contains(t, byMsg["store unavailable"].Caller, "logger_test.go")

	// detached: nothing more is shipped
	l.Error("after")
	assert.Len(t, pub.all(), 2)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	assert.Eventually(t, func() bool { return len(pub.all()) == 2 }, time.Second, 5*time.Millisecond)
}
