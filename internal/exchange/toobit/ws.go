package toobit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectDelay = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// MarkHandler receives every mark price update from the feed.
type MarkHandler func(symbol string, price float64)

// MarkFeed streams mark prices for a set of symbols over the venue's public
// quote WebSocket and forwards updates to a handler. It reconnects on any
// connection failure until Close is called or the context ends.
type MarkFeed struct {
	url     string
	symbols func() []string
	handler MarkHandler
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewMarkFeed creates a MarkFeed. symbols is called on every (re)connect so
// subscriptions follow the current open positions.
func NewMarkFeed(url string, symbols func() []string, handler MarkHandler, logger *slog.Logger) *MarkFeed {
	return &MarkFeed{
		url:     url,
		symbols: symbols,
		handler: handler,
		logger:  logger.With(slog.String("component", "toobit_ws")),
		done:    make(chan struct{}),
	}
}

// Run maintains the connection until the context is cancelled or Close is
// called.
func (f *MarkFeed) Run(ctx context.Context) error {
	f.logger.Info("mark feed started", slog.String("url", f.url))
	defer f.logger.Info("mark feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		if err := f.runConnection(ctx); err != nil {
			f.logger.Warn("connection lost, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("delay", reconnectDelay),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Close stops the feed and tears down the current connection.
func (f *MarkFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// runConnection dials, subscribes, and pumps messages until something breaks.
func (f *MarkFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("toobit: dial %s: %w", f.url, err)
	}
	defer conn.Close()

	if err := f.subscribe(conn); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	errCh := make(chan error, 2)
	go f.readLoop(conn, errCh)
	go f.pingLoop(ctx, conn, errCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	case err := <-errCh:
		return err
	}
}

// subscribe sends one markPrice subscription per symbol.
func (f *MarkFeed) subscribe(conn *websocket.Conn) error {
	for _, symbol := range f.symbols() {
		msg := map[string]any{
			"symbol": symbol,
			"topic":  "markPrice",
			"event":  "sub",
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("toobit: subscribe %s: %w", symbol, err)
		}
		f.logger.Debug("subscribed", slog.String("symbol", symbol))
	}
	return nil
}

func (f *MarkFeed) readLoop(conn *websocket.Conn, errCh chan<- error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			errCh <- fmt.Errorf("toobit: read message: %w", err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		f.handleMessage(raw)
	}
}

func (f *MarkFeed) pingLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				errCh <- fmt.Errorf("toobit: send ping: %w", err)
				return
			}
		}
	}
}

// handleMessage decodes a markPrice frame and forwards it. Frames for other
// topics and subscription acks are dropped.
func (f *MarkFeed) handleMessage(raw []byte) {
	var frame struct {
		Symbol string `json:"symbol"`
		Topic  string `json:"topic"`
		Data   []struct {
			Price string `json:"p"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		f.logger.Debug("undecodable frame dropped", slog.String("error", err.Error()))
		return
	}
	if frame.Topic != "markPrice" || frame.Symbol == "" || len(frame.Data) == 0 {
		return
	}
	price := parseFloat(frame.Data[len(frame.Data)-1].Price)
	if price <= 0 {
		return
	}
	f.handler(frame.Symbol, price)
}
