package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
)

var (
	_ drepo.Metrics = (*Recorder)(nil)
	_ drepo.Metrics = Noop{}
)

func TestRecordRegimeIsOneHot(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.RecordRegime("default", models.RegimeNormalBull)
	r.RecordRegime("default", models.RegimeDefenseTrigger)

	assert.Equal(t, 0.0, testutil.ToFloat64(r.regime.WithLabelValues("default", string(models.RegimeNormalBull))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.regime.WithLabelValues("default", string(models.RegimeDefenseTrigger))))
}

func TestRecordGatewayCountsFailures(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.RecordGateway("submit", 0.1, nil)
	r.RecordGateway("submit", 0.2, models.Errorf(models.ErrExecutionFailure, "op", "rejected"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.gatewayErrors.WithLabelValues("submit", "execution")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.gateway))
}
