package vtube

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kotoba-live/kotoba/pkg/errorsx"
	"github.com/kotoba-live/kotoba/pkg/logging"
)

const (
	apiName    = "VTubeStudioPublicAPI"
	apiVersion = "1.0"

	defaultURL       = "ws://localhost:8001"
	defaultParameter = "MouthOpen"
)

var errNotConnected = errors.New("vtube: not connected")

type Config struct {
	URL             string
	PluginName      string
	PluginDeveloper string
	Parameter       string
}

type message struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Client drives a VTube Studio avatar over the plugin websocket API.
// Lip-sync injection is fire and forget; a stale or disconnected
// avatar must never stall audio playback.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	authenticated bool

	writeCh chan float64
	ctxDone chan struct{}
	once    sync.Once
}

func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.PluginName == "" {
		cfg.PluginName = "kotoba"
	}
	if cfg.PluginDeveloper == "" {
		cfg.PluginDeveloper = "kotoba-live"
	}
	if cfg.Parameter == "" {
		cfg.Parameter = defaultParameter
	}
	return &Client{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(slog.Default(), "vtube"),
		writeCh: make(chan float64, 64),
		ctxDone: make(chan struct{}),
	}
}

func (c *Client) Connect() error {
	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonAvatarConnect)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("connected to vtube studio", slog.String("url", c.cfg.URL))

	if err := c.requestToken(); err != nil {
		conn.Close()
		return err
	}
	go c.readLoop()
	go c.writeLoop()
	return nil
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.ctxDone) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return c.conn.Close()
	}
	return nil
}

// SendLipSync queues a mouth-open value in [0,1]. Values are dropped
// when the writer is behind; freshness beats completeness here.
func (c *Client) SendLipSync(v float64) {
	select {
	case c.writeCh <- v:
	default:
	}
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) requestToken() error {
	data, _ := json.Marshal(map[string]any{
		"pluginName":      c.cfg.PluginName,
		"pluginDeveloper": c.cfg.PluginDeveloper,
	})
	return c.send(message{
		APIName:     apiName,
		APIVersion:  apiVersion,
		RequestID:   "authToken",
		MessageType: "AuthenticationTokenRequest",
		Data:        data,
	})
}

func (c *Client) authenticate(token string) error {
	data, _ := json.Marshal(map[string]any{
		"authenticationToken": token,
		"pluginName":          c.cfg.PluginName,
		"pluginDeveloper":     c.cfg.PluginDeveloper,
	})
	return c.send(message{
		APIName:     apiName,
		APIVersion:  apiVersion,
		RequestID:   "authRequest",
		MessageType: "AuthenticationRequest",
		Data:        data,
	})
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.ctxDone:
			return
		default:
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.logger.Error("vtube read loop error", slog.String("error", err.Error()))
			return
		}
		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("vtube unparsable message", slog.String("data", string(raw)))
		return
	}
	switch msg.MessageType {
	case "AuthenticationTokenResponse":
		var data struct {
			AuthenticationToken string `json:"authenticationToken"`
		}
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.logger.Error("vtube token decode error", slog.String("error", err.Error()))
			return
		}
		if err := c.authenticate(data.AuthenticationToken); err != nil {
			c.logger.Error("vtube authenticate error", slog.String("error", err.Error()))
		}
	case "AuthenticationResponse":
		var data struct {
			Authenticated bool `json:"authenticated"`
		}
		_ = json.Unmarshal(msg.Data, &data)
		c.mu.Lock()
		c.authenticated = data.Authenticated
		c.mu.Unlock()
		if data.Authenticated {
			c.logger.Info("vtube authentication successful")
		} else {
			c.logger.Warn("vtube authentication rejected")
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctxDone:
			return
		case v := <-c.writeCh:
			if err := c.inject(v); err != nil {
				c.logger.Debug("vtube inject error", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Client) inject(v float64) error {
	data, _ := json.Marshal(map[string]any{
		"faceFound": false,
		"mode":      "set",
		"parameterValues": []map[string]any{
			{"id": c.cfg.Parameter, "value": v},
		},
	})
	return c.send(message{
		APIName:     apiName,
		APIVersion:  apiVersion,
		RequestID:   "inject-open",
		MessageType: "InjectParameterDataRequest",
		Data:        data,
	})
}

func (c *Client) send(msg message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonAvatarSend)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errorsx.Wrap(errNotConnected, errorsx.ReasonAvatarSend)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonAvatarSend)
	}
	return nil
}
