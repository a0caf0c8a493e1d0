package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	pkghttp "RegimeDesk/pkg/http"
	"RegimeDesk/pkg/logger"
)

// BreakerConfig tunes the circuit breaker in front of the broker API.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// HTTPGateway talks to a broker bridge over JSON/HTTP.
//
//	POST   {url}/orders        OrderRequest -> OrderResult
//	DELETE {url}/orders/{id}
//	GET    {url}/positions     {"positions": [...]}
//	GET    {url}/account       AccountSummary
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *pkghttp.Client
	cb      *gobreaker.CircuitBreaker
	log     *logger.Logger
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, bc BreakerConfig, log *logger.Logger) *HTTPGateway {
	g := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		log:     log,
	}
	failures := bc.ConsecutiveFailures
	if failures == 0 {
		failures = 3
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "execution-gateway",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= failures },

		// a 4xx means the broker answered; only transport and 5xx trip it
		IsSuccessful: func(err error) bool { return err == nil || pkghttp.IsClientFault(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return g
}

func (g *HTTPGateway) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if g.apiKey != "" {
		h["Authorization"] = "Bearer " + g.apiKey
	}
	return h
}

// call runs fn through the breaker. An open breaker fails fast.
func (g *HTTPGateway) call(op string, fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) { return nil, fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return models.NewError(models.ErrExecutionFailure, "gateway."+op, err)
	}
	if err != nil {
		return fmt.Errorf("gateway %s: %w", op, err)
	}
	return nil
}

func (g *HTTPGateway) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	var res models.OrderResult
	err := g.call("submit", func() error {
		return g.client.SendAndParse(ctx, &pkghttp.RequestOptions{
			Method:  pkghttp.MethodPost,
			URL:     g.baseURL + "/orders",
			Headers: g.headers(),
			Body:    req,
		}, &res)
	})
	return res, err
}

func (g *HTTPGateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.call("cancel", func() error {
		return g.client.SendAndParse(ctx, &pkghttp.RequestOptions{
			Method:  pkghttp.MethodDelete,
			URL:     g.baseURL + "/orders/" + url.PathEscape(orderID),
			Headers: g.headers(),
		}, nil)
	})
}

func (g *HTTPGateway) GetPositions(ctx context.Context) ([]models.Position, error) {
	var body struct {
		Positions []models.Position `json:"positions"`
	}
	err := g.call("positions", func() error {
		return g.client.SendAndParse(ctx, &pkghttp.RequestOptions{
			Method:  pkghttp.MethodGet,
			URL:     g.baseURL + "/positions",
			Headers: g.headers(),
		}, &body)
	})
	return body.Positions, err
}

func (g *HTTPGateway) AccountSummary(ctx context.Context) (models.AccountSummary, error) {
	var sum models.AccountSummary
	err := g.call("account", func() error {
		return g.client.SendAndParse(ctx, &pkghttp.RequestOptions{
			Method:  pkghttp.MethodGet,
			URL:     g.baseURL + "/account",
			Headers: g.headers(),
		}, &sum)
	})
	return sum, err
}

var _ drepo.ExecutionGateway = (*HTTPGateway)(nil)
