package models

// Requests for the engine HTTP endpoints. Defined in domain for consistency and reuse.

type RunCycleRequest struct {
	Mode string `query:"mode" json:"mode" validate:"omitempty,oneof=direct approval"`
}

type ListRecommendationsRequest struct {
	PendingOnly bool `query:"pending_only" json:"pending_only"`
	Limit       int  `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type RecommendationIDRequest struct {
	ID string `param:"id" json:"id" validate:"required,uuid"`
}

type RejectRecommendationRequest struct {
	ID     string `param:"id" json:"id" validate:"required,uuid"`
	Reason string `json:"reason" default:"rejected by operator" validate:"required,max=500"`
}

type EmergencyShutdownRequest struct {
	Reason string `json:"reason" default:"operator emergency shutdown" validate:"max=500"`
}

type RegimeHistoryRequest struct {
	Limit int `query:"limit" json:"limit" default:"52" validate:"gte=1,lte=1000"`
}

type ListPositionsRequest struct {
	Status string `query:"status" json:"status" validate:"omitempty,oneof=open closed expired"`
}
