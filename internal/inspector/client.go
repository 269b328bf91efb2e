package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultEventBuffer    = 256
	defaultAttachTimeout  = 5 * time.Second
	defaultCommandTimeout = 10 * time.Second
)

// WSDialer attaches to targets over the inspector's websocket debugging
// endpoint.
type WSDialer struct {
	endpoint       string
	httpClient     *http.Client
	wsDialer       *websocket.Dialer
	eventBuffer    int
	commandTimeout time.Duration
	logger         *slog.Logger
}

// NewWSDialer constructs a dialer for an endpoint such as
// "http://127.0.0.1:9222". Non-positive timeouts fall back to defaults.
func NewWSDialer(endpoint string, eventBuffer int, attachTimeout, commandTimeout time.Duration, logger *slog.Logger) *WSDialer {
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	if attachTimeout <= 0 {
		attachTimeout = defaultAttachTimeout
	}
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	if logger != nil {
		logger = logger.With("component", "inspector")
	}
	return &WSDialer{
		endpoint:       strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		httpClient:     &http.Client{Timeout: attachTimeout},
		wsDialer:       &websocket.Dialer{HandshakeTimeout: attachTimeout},
		eventBuffer:    eventBuffer,
		commandTimeout: commandTimeout,
		logger:         logger,
	}
}

// Attach resolves the target's websocket URL and opens the link.
func (d *WSDialer) Attach(ctx context.Context, targetID string) (Link, error) {
	info, err := d.resolveTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := d.wsDialer.DialContext(ctx, info.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("inspector: dial %s: %w", info.WebSocketDebuggerURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	link := &wsLink{
		info:           info,
		conn:           conn,
		pending:        make(map[int64]pendingCall),
		events:         make(chan Event, d.eventBuffer),
		closed:         make(chan struct{}),
		commandTimeout: d.commandTimeout,
		logger:         d.logger,
	}
	go link.readLoop()
	return link, nil
}

func (d *WSDialer) resolveTarget(ctx context.Context, targetID string) (TargetInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/json/list", nil)
	if err != nil {
		return TargetInfo{}, fmt.Errorf("inspector: build list request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return TargetInfo{}, fmt.Errorf("inspector: list targets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return TargetInfo{}, fmt.Errorf("inspector: list targets: unexpected status %d", resp.StatusCode)
	}
	var targets []TargetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return TargetInfo{}, fmt.Errorf("inspector: decode target list: %w", err)
	}
	for _, t := range targets {
		if t.ID == targetID && t.WebSocketDebuggerURL != "" {
			return t, nil
		}
	}
	return TargetInfo{}, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
}

type commandResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	method string
	ch     chan commandResult
}

type wireMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsLink struct {
	info    TargetInfo
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]pendingCall
	nextID  atomic.Int64

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64

	commandTimeout time.Duration
	logger         *slog.Logger
}

func (l *wsLink) Info() TargetInfo { return l.info }

func (l *wsLink) Events() <-chan Event { return l.events }

// Command sends one protocol command and waits for its response.
func (l *wsLink) Command(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-l.closed:
		return nil, ErrDetached
	default:
	}

	// Bound the wait even when the caller's context has no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && l.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.commandTimeout)
		defer cancel()
	}

	id := l.nextID.Add(1)
	msg := map[string]any{"id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("inspector: encode %s: %w", method, err)
	}

	ch := make(chan commandResult, 1)
	l.mu.Lock()
	l.pending[id] = pendingCall{method: method, ch: ch}
	l.mu.Unlock()

	l.writeMu.Lock()
	err = l.conn.WriteMessage(websocket.TextMessage, payload)
	l.writeMu.Unlock()
	if err != nil {
		l.forget(id)
		return nil, fmt.Errorf("inspector: send %s: %w", method, err)
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		l.forget(id)
		return nil, ctx.Err()
	case <-l.closed:
		l.forget(id)
		return nil, ErrDetached
	}
}

// Detach closes the link. Safe to call any number of times.
func (l *wsLink) Detach() {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.writeMu.Lock()
		deadline := time.Now().Add(250 * time.Millisecond)
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		l.writeMu.Unlock()
		_ = l.conn.Close()
	})
}

func (l *wsLink) readLoop() {
	defer l.cleanup()
	for {
		_, payload, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.closed:
			default:
				if l.logger != nil {
					l.logger.Warn("link read error", "target_id", l.info.ID, "error", err)
				}
			}
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		switch {
		case msg.ID != 0:
			l.deliverResult(msg)
		case msg.Method != "":
			select {
			case l.events <- Event{Method: msg.Method, Params: msg.Params}:
			default:
				// Consumer is behind; dropping is preferable to blocking the
				// read loop and stalling command responses.
				l.dropped.Add(1)
			}
		}
	}
}

func (l *wsLink) deliverResult(msg wireMessage) {
	l.mu.Lock()
	call, ok := l.pending[msg.ID]
	delete(l.pending, msg.ID)
	l.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		call.ch <- commandResult{err: &CommandError{Method: call.method, Code: msg.Error.Code, Message: msg.Error.Message}}
		return
	}
	call.ch <- commandResult{result: msg.Result}
}

func (l *wsLink) cleanup() {
	l.Detach()
	l.mu.Lock()
	for id, call := range l.pending {
		delete(l.pending, id)
		call.ch <- commandResult{err: ErrDetached}
	}
	l.mu.Unlock()
	if n := l.dropped.Load(); n > 0 && l.logger != nil {
		l.logger.Warn("link dropped events", "target_id", l.info.ID, "count", n)
	}
	close(l.events)
}

func (l *wsLink) forget(id int64) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}
