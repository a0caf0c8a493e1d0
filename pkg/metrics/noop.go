package metrics

import "RegimeDesk/internal/domain/models"

// Noop discards every measurement. Used when metrics are disabled and in tests.
type Noop struct{}

func (Noop) RecordCycle(string, string, float64)            {}
func (Noop) RecordRegime(string, models.RegimeType)         {}
func (Noop) RecordAction(string, string)                    {}
func (Noop) RecordRisk(string, models.RiskVerdict, float64) {}
func (Noop) RecordRecommendation(string)                    {}
func (Noop) RecordGateway(string, float64, error)           {}
func (Noop) RecordError(string)                             {}
func (Noop) RecordLastPrice(string, float64)                {}
func (Noop) RecordLatency(string, float64)                  {}
