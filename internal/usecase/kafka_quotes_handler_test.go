package usecase

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeDesk/internal/domain/models"
	mid "RegimeDesk/internal/middleware"
	pkgkafka "RegimeDesk/pkg/kafka"
	"RegimeDesk/pkg/metrics"
)

type tickSink struct {
	got []*models.PriceTick
	err error
}

func (s *tickSink) Process(_ context.Context, t *models.PriceTick) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, t)
	return nil
}

func TestKafkaQuotesHandler(t *testing.T) {
	sink := &tickSink{}
	pipe := mid.NewRealtimePipeline(sink, metrics.Noop{}, mid.WithMaxRPS(0))
	h := NewKafkaQuotesHandler("quotes", pipe, metrics.Noop{})
	ctx := context.Background()
	ms := time.Date(2025, 3, 7, 20, 0, 0, 0, time.UTC).UnixMilli()

	assert.Equal(t, "quotes", h.Topic())
	require.NoError(t, h.Handle(ctx, []byte(`{"symbol":"QQQ","t":`+itoa(ms)+`,"c":455.5,"v":3}`)))
	require.Len(t, sink.got, 1)
	assert.Equal(t, ms/1000, sink.got[0].Timestamp, "milliseconds are normalized")

	assert.ErrorIs(t, h.Handle(ctx, []byte(`{`)), pkgkafka.ErrSkip)
	assert.ErrorIs(t, h.Handle(ctx, []byte(`{"symbol":"QQQ","t":1,"c":-2}`)), pkgkafka.ErrSkip)

	sink.err = errors.New("feed down")
	assert.NoError(t, h.Handle(ctx, []byte(`{"symbol":"QQQ","t":`+itoa(ms+1000)+`,"c":456,"v":1}`)), "held by the pipeline, not retried")
	assert.Equal(t, 1, pipe.Pending())
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
