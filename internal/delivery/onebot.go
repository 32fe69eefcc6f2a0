// Package delivery sends composed notices to chat groups.
package delivery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/obentoo/gamepush/internal/common/logger"
	"github.com/obentoo/gamepush/internal/monitor"
)

// DefaultCallTimeout bounds one API call when ctx carries no deadline.
const DefaultCallTimeout = 30 * time.Second

// Bot is one OneBot v11 forward-websocket endpoint.
type Bot struct {
	ID          string
	URL         string
	AccessToken string
}

type segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

type groupMessage struct {
	GroupID any       `json:"group_id"`
	Message []segment `json:"message"`
}

type apiResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Data    json.RawMessage `json:"data"`
	Echo    string          `json:"echo"`
}

type botConn struct {
	bot  Bot
	mu   sync.Mutex
	conn *websocket.Conn
}

// OneBot delivers messages through OneBot v11 bots over websocket. Each
// bot keeps one connection, dialled on first use and again after a failure.
type OneBot struct {
	bots    map[string]*botConn
	dialer  *websocket.Dialer
	newEcho func() string
}

var _ monitor.Sender = (*OneBot)(nil)

// OneBotOption is a functional option for configuring OneBot
type OneBotOption func(*OneBot)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) OneBotOption {
	return func(o *OneBot) {
		o.dialer = d
	}
}

// NewOneBot creates a sender for the given bots.
func NewOneBot(bots []Bot, opts ...OneBotOption) *OneBot {
	o := &OneBot{
		bots:    make(map[string]*botConn, len(bots)),
		dialer:  websocket.DefaultDialer,
		newEcho: uuid.NewString,
	}
	for _, b := range bots {
		o.bots[b.ID] = &botConn{bot: b}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Send posts msg to the target group.
func (o *OneBot) Send(ctx context.Context, t monitor.Target, msg monitor.Message) error {
	bc, ok := o.bots[t.BotID]
	if !ok {
		return fmt.Errorf("%w: unknown bot %s", monitor.ErrDelivery, t.BotID)
	}

	req := apiRequest{
		Action: "send_group_msg",
		Params: groupMessage{GroupID: groupID(t.GroupID), Message: segments(msg)},
		Echo:   o.newEcho(),
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	resp, err := bc.call(ctx, o.dialer, req)
	if err != nil {
		return fmt.Errorf("%w: bot %s: %v", monitor.ErrDelivery, t.BotID, err)
	}
	if resp.Status != "ok" && resp.Status != "async" {
		return fmt.Errorf("%w: bot %s: send_group_msg to %s failed: retcode %d %s", monitor.ErrDelivery, t.BotID, t.GroupID, resp.RetCode, resp.Wording)
	}
	return nil
}

// Close drops every open connection.
func (o *OneBot) Close() error {
	for _, bc := range o.bots {
		bc.mu.Lock()
		bc.reset()
		bc.mu.Unlock()
	}
	return nil
}

func groupID(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func segments(msg monitor.Message) []segment {
	if msg.Format == monitor.FormatImage && len(msg.Image) > 0 {
		return []segment{{
			Type: "image",
			Data: map[string]any{"file": "base64://" + base64.StdEncoding.EncodeToString(msg.Image)},
		}}
	}
	return []segment{{Type: "text", Data: map[string]any{"text": msg.Text}}}
}

// call performs one request/response exchange. A write failure on a
// reused connection is retried once on a fresh one; a request that was
// written is never resent.
func (bc *botConn) call(ctx context.Context, dialer *websocket.Dialer, req apiRequest) (*apiResponse, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	reused := bc.conn != nil
	resp, written, err := bc.exchange(ctx, dialer, req)
	if err != nil && reused && !written && ctx.Err() == nil {
		logger.Debug("onebot %s: reconnecting after %v", bc.bot.ID, err)
		resp, _, err = bc.exchange(ctx, dialer, req)
	}
	return resp, err
}

func (bc *botConn) exchange(ctx context.Context, dialer *websocket.Dialer, req apiRequest) (*apiResponse, bool, error) {
	if bc.conn == nil {
		header := http.Header{}
		if bc.bot.AccessToken != "" {
			header.Set("Authorization", "Bearer "+bc.bot.AccessToken)
		}
		conn, resp, err := dialer.DialContext(ctx, bc.bot.URL, header)
		if err != nil {
			if resp != nil {
				return nil, false, fmt.Errorf("dial %s: %v (HTTP %d)", bc.bot.URL, err, resp.StatusCode)
			}
			return nil, false, fmt.Errorf("dial %s: %v", bc.bot.URL, err)
		}
		bc.conn = conn
	}

	deadline, _ := ctx.Deadline()
	bc.conn.SetWriteDeadline(deadline)
	bc.conn.SetReadDeadline(deadline)

	if err := bc.conn.WriteJSON(req); err != nil {
		bc.reset()
		return nil, false, err
	}

	// The connection also carries events; skip frames until our echo.
	for {
		var resp apiResponse
		if err := bc.conn.ReadJSON(&resp); err != nil {
			bc.reset()
			return nil, true, err
		}
		if resp.Echo == req.Echo {
			return &resp, true, nil
		}
	}
}

func (bc *botConn) reset() {
	if bc.conn != nil {
		bc.conn.Close()
		bc.conn = nil
	}
}
