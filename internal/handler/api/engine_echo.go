package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"RegimeDesk/internal/domain/models"
	"RegimeDesk/internal/usecase"
	xhttp "RegimeDesk/pkg/http"
	xlogger "RegimeDesk/pkg/logger"
)

// Engine is the operator-facing surface of the regime engine.
type Engine interface {
	RunCycle(ctx context.Context, mode models.CycleMode) (models.CycleResult, error)
	CurrentRegime(ctx context.Context) (models.RegimeRecord, error)
	RegimeHistory(ctx context.Context, limit int) ([]models.RegimeRecord, error)
	Positions(ctx context.Context, status models.PositionStatus) ([]models.Position, error)
	State(ctx context.Context) (models.AccountState, error)
	ListRecommendations(ctx context.Context, pendingOnly bool, limit int) ([]models.Recommendation, error)
	GetRecommendation(ctx context.Context, id string) (models.Recommendation, error)
	ApproveRecommendation(ctx context.Context, id string) (models.Recommendation, error)
	RejectRecommendation(ctx context.Context, id, reason string) (models.Recommendation, error)
	ExecuteRecommendation(ctx context.Context, id string) (models.Recommendation, error)
	EmergencyShutdown(ctx context.Context, reason string) (models.ShutdownResult, error)
	Resume(ctx context.Context) (models.AccountState, error)
	ReconcilePositions(ctx context.Context) ([]models.Position, error)
}

var _ Engine = (*usecase.Engine)(nil)

// EngineEchoHandler exposes the engine over Echo.
type EngineEchoHandler struct {
	logger  *xlogger.Logger
	engine  Engine
	limiter echo.MiddlewareFunc
}

// NewEngineEchoHandler builds the handler. limiter guards the writes and may be nil.
func NewEngineEchoHandler(logger *xlogger.Logger, engine Engine, limiter echo.MiddlewareFunc) *EngineEchoHandler {
	return &EngineEchoHandler{logger: logger, engine: engine, limiter: limiter}
}

func (h *EngineEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/regime", h.CurrentRegime)
	g.GET("/regime/history", h.RegimeHistory)
	g.GET("/positions", h.Positions)
	g.GET("/state", h.State)
	g.GET("/recommendations", h.ListRecommendations)
	g.GET("/recommendations/:id", h.GetRecommendation)
	g.POST("/shutdown", h.Shutdown)

	w := g.Group("")
	if h.limiter != nil {
		w.Use(h.limiter)
	}
	w.POST("/cycles", h.RunCycle)
	w.POST("/recommendations/:id/approve", h.Approve)
	w.POST("/recommendations/:id/reject", h.Reject)
	w.POST("/recommendations/:id/execute", h.Execute)
	w.POST("/resume", h.Resume)
	w.POST("/reconcile", h.Reconcile)
}

func (h *EngineEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.Error(err))
	} else {
		h.logger.Warn(op+" refused", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// RunCycle runs one cycle now. The mode comes from the body or ?mode=.
func (h *EngineEchoHandler) RunCycle(c echo.Context) error {
	req := &models.RunCycleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Mode == "" {
		req.Mode = c.QueryParam("mode")
	}
	mode := models.CycleMode(req.Mode)
	if mode != "" && !mode.Valid() {
		return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{Code: "ERR_ONEOF", Field: "mode", Message: "mode must be direct or approval"}})
	}
	res, err := h.engine.RunCycle(c.Request().Context(), mode)
	if err != nil {
		return h.fail(c, "run cycle", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineEchoHandler) CurrentRegime(c echo.Context) error {
	r, err := h.engine.CurrentRegime(c.Request().Context())
	if err != nil {
		return h.fail(c, "current regime", err)
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *EngineEchoHandler) RegimeHistory(c echo.Context) error {
	req := &models.RegimeHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.engine.RegimeHistory(c.Request().Context(), req.Limit)
	if err != nil {
		return h.fail(c, "regime history", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) Positions(c echo.Context) error {
	req := &models.ListPositionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.engine.Positions(c.Request().Context(), models.PositionStatus(req.Status))
	if err != nil {
		return h.fail(c, "positions", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) State(c echo.Context) error {
	st, err := h.engine.State(c.Request().Context())
	if err != nil {
		return h.fail(c, "state", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *EngineEchoHandler) ListRecommendations(c echo.Context) error {
	req := &models.ListRecommendationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.engine.ListRecommendations(c.Request().Context(), req.PendingOnly, req.Limit)
	if err != nil {
		return h.fail(c, "list recommendations", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) GetRecommendation(c echo.Context) error {
	req := &models.RecommendationIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := h.engine.GetRecommendation(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "get recommendation", err)
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *EngineEchoHandler) Approve(c echo.Context) error {
	req := &models.RecommendationIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := h.engine.ApproveRecommendation(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "approve", err)
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *EngineEchoHandler) Reject(c echo.Context) error {
	req := &models.RejectRecommendationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := h.engine.RejectRecommendation(c.Request().Context(), req.ID, req.Reason)
	if err != nil {
		return h.fail(c, "reject", err)
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *EngineEchoHandler) Execute(c echo.Context) error {
	req := &models.RecommendationIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := h.engine.ExecuteRecommendation(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "execute", err)
	}
	return xhttp.SuccessResponse(c, r)
}

// Shutdown is always permitted, so it sits outside the write limiter.
func (h *EngineEchoHandler) Shutdown(c echo.Context) error {
	req := &models.EmergencyShutdownRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.engine.EmergencyShutdown(c.Request().Context(), req.Reason)
	if err != nil {
		return h.fail(c, "shutdown", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineEchoHandler) Resume(c echo.Context) error {
	st, err := h.engine.Resume(c.Request().Context())
	if err != nil {
		return h.fail(c, "resume", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *EngineEchoHandler) Reconcile(c echo.Context) error {
	rows, err := h.engine.ReconcilePositions(c.Request().Context())
	if err != nil {
		return h.fail(c, "reconcile", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
