package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remails-com/remails/internal/model"
)

// Client talks to a Server over HTTP (posting events) and WebSocket
// (receiving them). It holds no connection open for Send/TrySend; only
// Receive and ReceiveAutoReconnect keep a live socket.
type Client struct {
	httpClient *http.Client
	baseURL    string // e.g. "http://localhost:4000"
	wsURL      string // e.g. "ws://localhost:4000"
	logger     *slog.Logger
}

func NewClient(host string, port int, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		wsURL:      fmt.Sprintf("ws://%s:%d", host, port),
		logger:     logger,
	}
}

// Send posts event to /post and returns an error if the bus rejects or is
// unreachable.
func (c *Client) Send(ctx context.Context, event model.BusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding bus event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/post", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting bus event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bus returned status %d", resp.StatusCode)
	}

	return nil
}

// TrySend sends event and logs but otherwise swallows any error. Used by
// callers for whom a missed notification is not fatal, since the periodic
// retry tick will pick the message back up regardless.
func (c *Client) TrySend(ctx context.Context, event model.BusEvent) {
	if err := c.Send(ctx, event); err != nil {
		c.logger.Error("bus: failed to send event", "error", err)
	}
}

// Receive dials /listen and returns a channel of decoded events. The
// channel is closed when the connection drops; the caller is responsible
// for reconnecting if it wants more (see ReceiveAutoReconnect).
func (c *Client) Receive(ctx context.Context) (<-chan model.BusEvent, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL+"/listen", nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to message bus: %w", err)
	}

	events := make(chan model.BusEvent)

	go func() {
		defer close(events)
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var event model.BusEvent
			if err := json.Unmarshal(data, &event); err != nil {
				c.logger.Error("bus: could not decode event", "error", err)
				continue
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// ReceiveAutoReconnect behaves like Receive but reconnects with the given
// backoff whenever the socket drops, until ctx is cancelled.
func (c *Client) ReceiveAutoReconnect(ctx context.Context, backoff time.Duration) <-chan model.BusEvent {
	out := make(chan model.BusEvent)

	go func() {
		defer close(out)

		for {
			if ctx.Err() != nil {
				return
			}

			stream, err := c.Receive(ctx)
			if err != nil {
				c.logger.Error("bus: reconnecting after failed connection", "error", err, "backoff", backoff)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return
				}
			}

			for event := range stream {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}

			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("bus: connection dropped, reconnecting", "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
