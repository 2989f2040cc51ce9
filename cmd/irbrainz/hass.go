package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HassChannel calls Home Assistant services over its websocket API.
//
// Button ids have the form "domain.service:entity_id", for example
// "switch.toggle:switch.local_disco_ball". Only SendOnce is meaningful; there
// is no notion of holding a service call.
type HassChannel struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	url         string
	token       string
	nextID      int
	logger      *slog.Logger
	readTimeout time.Duration
}

const (
	hassConnectAttempts = 3
	hassRetryDelay      = 250 * time.Millisecond
)

// NewHassChannel validates the URL; the connection is established on first use.
func NewHassChannel(wsURL, token string, logger *slog.Logger, readTimeout time.Duration) (*HassChannel, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if token == "" {
		return nil, errors.New("home assistant token is empty")
	}
	if readTimeout <= 0 {
		readTimeout = defaultHassTimeoutMS * time.Millisecond
	}
	return &HassChannel{
		url:         wsURL,
		token:       token,
		logger:      logger,
		readTimeout: readTimeout,
	}, nil
}

type hassMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   *hassError      `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type hassError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type hassServiceCall struct {
	ID          int               `json:"id"`
	Type        string            `json:"type"`
	Domain      string            `json:"domain"`
	Service     string            `json:"service"`
	ServiceData map[string]string `json:"service_data,omitempty"`
}

// connect dials and authenticates. Caller holds c.mu.
func (c *HassChannel) connect(ctx context.Context) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	d := websocket.Dialer{
		HandshakeTimeout: 2 * time.Second,
	}

	conn, _, err := d.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var hello hassMessage
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("unexpected greeting %q", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}

	var auth hassMessage
	if err := conn.ReadJSON(&auth); err != nil {
		conn.Close()
		return fmt.Errorf("read auth result: %w", err)
	}
	if auth.Type != "auth_ok" {
		conn.Close()
		return fmt.Errorf("authentication failed: %s %s", auth.Type, auth.Message)
	}

	c.conn = conn
	c.nextID = 0
	return nil
}

// connectWithRetry attempts a few connections before giving up. Caller holds c.mu.
func (c *HassChannel) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < hassConnectAttempts; attempt++ {
		err := c.connect(ctx)
		if err == nil {
			c.logger.Info("connected to Home Assistant", "url", c.url)
			return nil
		}
		lastErr = err
		c.logger.Warn("home assistant connection failed; retrying...", "error", err, "attempt", attempt+1)
		if err := sleepCtx(ctx, hassRetryDelay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: home assistant after %d attempts: %w", ErrNotConnected, hassConnectAttempts, lastErr)
}

// call sends a request and waits for the result with the same id.
func (c *HassChannel) call(ctx context.Context, req hassServiceCall) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectWithRetry(ctx); err != nil {
			return err
		}
	}

	c.nextID++
	req.ID = c.nextID
	req.Type = "call_service"

	deadline := time.Now().Add(c.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		c.conn.Close()
		c.conn = nil // Mark connection as broken
		return fmt.Errorf("send call_service: %w", err)
	}

	c.conn.SetReadDeadline(deadline)
	defer func() {
		if c.conn != nil {
			c.conn.SetReadDeadline(time.Time{})
		}
	}()

	for {
		var msg hassMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.conn.Close()
			c.conn = nil
			return fmt.Errorf("read call_service result: %w", err)
		}
		if msg.Type != "result" || msg.ID != req.ID {
			continue
		}
		if !msg.Success {
			if msg.Error != nil {
				return fmt.Errorf("%s.%s failed: %s (%s)", req.Domain, req.Service, msg.Error.Message, msg.Error.Code)
			}
			return fmt.Errorf("%s.%s failed", req.Domain, req.Service)
		}
		c.logger.Debug("home assistant service called", "domain", req.Domain, "service", req.Service, "data", req.ServiceData)
		return nil
	}
}

// parseServiceButton splits "domain.service:entity_id".
func parseServiceButton(button string) (hassServiceCall, error) {
	svc, entity, _ := strings.Cut(button, ":")
	domain, service, ok := strings.Cut(svc, ".")
	if !ok || domain == "" || service == "" {
		return hassServiceCall{}, fmt.Errorf("invalid service button %q (want domain.service:entity_id)", button)
	}
	call := hassServiceCall{Domain: domain, Service: service}
	if entity != "" {
		call.ServiceData = map[string]string{"entity_id": entity}
	}
	return call, nil
}

func (c *HassChannel) SendOnce(ctx context.Context, remote, button string) error {
	req, err := parseServiceButton(button)
	if err != nil {
		return err
	}
	return c.call(ctx, req)
}

func (c *HassChannel) SendStart(ctx context.Context, remote, button string) error {
	return fmt.Errorf("%w: hold on %s", ErrUnsupported, remote)
}

func (c *HassChannel) SendStop(ctx context.Context, remote, button string) error {
	return fmt.Errorf("%w: hold on %s", ErrUnsupported, remote)
}

// Close closes the websocket connection.
func (c *HassChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
