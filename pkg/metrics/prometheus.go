package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"RegimeDesk/internal/domain/models"
)

var regimes = []models.RegimeType{
	models.RegimeNormalBull,
	models.RegimeDefenseTrigger,
	models.RegimeRecoveryMode,
	models.RegimeRecoveryComplete,
}

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	regime          *prometheus.GaugeVec
	actions         *prometheus.CounterVec
	drawdown        *prometheus.GaugeVec
	deployed        *prometheus.GaugeVec
	halted          *prometheus.GaugeVec
	vix             *prometheus.GaugeVec
	recommendations *prometheus.CounterVec
	gateway         *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
}

// New creates the recorder against reg, or the default registry when reg is nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regimedesk_cycles_total",
			Help: "Orchestration cycles by mode and outcome",
		}, []string{"mode", "outcome"}),
		cycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regimedesk_cycle_duration_seconds",
			Help:    "Duration of orchestration cycles",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		regime: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regimedesk_regime",
			Help: "1 for the active regime of an account, 0 otherwise",
		}, []string{"account", "regime"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regimedesk_actions_total",
			Help: "Planned actions by kind and outcome",
		}, []string{"kind", "outcome"}),
		drawdown: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regimedesk_drawdown_ratio",
			Help: "Drawdown from the high-water mark",
		}, []string{"account"}),
		deployed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regimedesk_deployed_ratio",
			Help: "Deployed capital over the account limit",
		}, []string{"account"}),
		halted: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regimedesk_risk_halted",
			Help: "1 while the risk verdict halts opening trades",
		}, []string{"account"}),
		vix: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regimedesk_vix",
			Help: "VIX at the last evaluation",
		}, []string{"account"}),
		recommendations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regimedesk_recommendations_total",
			Help: "Recommendation transitions by resulting status",
		}, []string{"status"}),
		gateway: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regimedesk_gateway_duration_seconds",
			Help:    "Execution gateway call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		gatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regimedesk_gateway_errors_total",
			Help: "Execution gateway call failures",
		}, []string{"op", "reason"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regimedesk_errors_total",
			Help: "Total number of errors encountered",
		}, []string{"type"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regimedesk_last_price",
			Help: "Last recorded price for a symbol",
		}, []string{"symbol"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regimedesk_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordCycle(mode, outcome string, seconds float64) {
	r.cycles.WithLabelValues(mode, outcome).Inc()
	r.cycleDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordRegime sets the active regime gauge to 1 and the others to 0.
func (r *Recorder) RecordRegime(account string, regime models.RegimeType) {
	for _, rt := range regimes {
		v := 0.0
		if rt == regime {
			v = 1
		}
		r.regime.WithLabelValues(account, string(rt)).Set(v)
	}
}

func (r *Recorder) RecordAction(kind, outcome string) {
	r.actions.WithLabelValues(kind, outcome).Inc()
}

func (r *Recorder) RecordRisk(account string, v models.RiskVerdict, vix float64) {
	r.drawdown.WithLabelValues(account).Set(v.Drawdown.InexactFloat64())
	r.deployed.WithLabelValues(account).Set(v.DeployedPct.InexactFloat64())
	halted := 0.0
	if v.Halted {
		halted = 1
	}
	r.halted.WithLabelValues(account).Set(halted)
	r.vix.WithLabelValues(account).Set(vix)
}

func (r *Recorder) RecordRecommendation(status string) {
	r.recommendations.WithLabelValues(status).Inc()
}

// RecordGateway observes a gateway call and counts it as failed when err is set.
func (r *Recorder) RecordGateway(op string, seconds float64, err error) {
	r.gateway.WithLabelValues(op).Observe(seconds)
	if err == nil {
		return
	}
	reason := "error"
	if errors.Is(err, models.ErrExecutionFailure) {
		reason = "execution"
	}
	r.gatewayErrors.WithLabelValues(op, reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
