package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	"RegimeDesk/pkg/logger"
)

var errNotConnected = errors.New("finnhub: not connected")

type Config struct {
	APIKey         string
	URL            string
	Symbols        []string
	ReconnectDelay time.Duration
	// PingInterval also bounds reads: a connection silent for two intervals
	// is treated as dead.
	PingInterval time.Duration
}

// Client streams last trades over the Finnhub WebSocket.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logger.Logger

	mu   sync.Mutex // guards conn
	wmu  sync.Mutex // serializes writes; gorilla allows one writer
	conn *websocket.Conn
}

func New(cfg Config, log *logger.Logger) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.extendDeadline(conn)
	conn.SetPongHandler(func(string) error {
		c.extendDeadline(conn)
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("finnhub connected", logger.String("host", u.Host))
	return nil
}

func (c *Client) extendDeadline(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingInterval))
}

type subscription struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (c *Client) Subscribe(ctx context.Context) error {
	if !c.IsConnected() {
		return errNotConnected
	}
	for _, s := range c.cfg.Symbols {
		if err := c.write(func(conn *websocket.Conn) error {
			return conn.WriteJSON(subscription{Type: "subscribe", Symbol: s})
		}); err != nil {
			return fmt.Errorf("finnhub subscribe %s: %w", s, err)
		}
	}
	c.log.Info("finnhub subscribed", logger.Any("symbols", c.cfg.Symbols))
	return nil
}

func (c *Client) write(fn func(*websocket.Conn) error) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return fn(conn)
}

type trade struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
	TimeMS int64   `json:"t"`
}

type frame struct {
	Type string  `json:"type"`
	Data []trade `json:"data"`
	Msg  string  `json:"msg"`
}

// decode turns a trade frame into ticks, keeping only the last trade of
// each symbol. Pings yield nothing; error frames yield an error.
func decode(b []byte) ([]*models.PriceTick, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("finnhub frame: %w", err)
	}
	switch f.Type {
	case "trade":
	case "error":
		return nil, fmt.Errorf("finnhub: %s", f.Msg)
	default:
		return nil, nil
	}

	latest := make(map[string]int, len(f.Data))
	ticks := make([]*models.PriceTick, 0, len(f.Data))
	for _, d := range f.Data {
		t := &models.PriceTick{Symbol: d.Symbol, Price: d.Price, Volume: d.Volume, Timestamp: d.TimeMS / 1000}
		if i, ok := latest[d.Symbol]; ok {
			if d.TimeMS/1000 >= ticks[i].Timestamp {
				ticks[i] = t
			}
			continue
		}
		latest[d.Symbol] = len(ticks)
		ticks = append(ticks, t)
	}
	return ticks, nil
}

// Read streams ticks until the connection fails or ctx ends; both channels
// are closed then. When the consumer lags, ticks are dropped rather than
// stalling the socket.
func (c *Client) Read(ctx context.Context) (<-chan *models.PriceTick, <-chan error) {
	ticks := make(chan *models.PriceTick, 256)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		errs <- errNotConnected
		close(errs)
		close(ticks)
		return ticks, errs
	}

	readCtx, cancel := context.WithCancel(ctx)
	go c.keepAlive(readCtx)
	go func() {
		// unblock ReadMessage when ctx ends
		<-readCtx.Done()
		if ctx.Err() != nil {
			_ = conn.Close()
		}
	}()

	go func() {
		defer close(errs)
		defer close(ticks)
		defer cancel()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			batch, err := decode(b)
			if err != nil {
				c.log.Warn("finnhub frame rejected", logger.Error(err))
				continue
			}
			for _, t := range batch {
				select {
				case ticks <- t:
				default:
				}
			}
		}
	}()
	return ticks, errs
}

func (c *Client) keepAlive(ctx context.Context) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.write(func(conn *websocket.Conn) error {
				return conn.WriteMessage(websocket.PingMessage, nil)
			}); err != nil {
				c.log.Debug("finnhub ping", logger.Error(err))
			}
		}
	}
}

// Reconnect closes the current connection, waits the reconnect delay, then
// dials and subscribes again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	t := time.NewTimer(c.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.wmu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return conn.Close()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

var _ drepo.PriceStream = (*Client)(nil)
