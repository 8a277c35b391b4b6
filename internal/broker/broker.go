package broker

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/monitoring"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/userdata"
)

// Actions understood by the broker. Anything else gets an empty
// response so old page scripts never hang on a reply.
const (
	ActionLinks        = "links"
	ActionPhones       = "phones"
	ActionCancel       = "cancel"
	ActionCloseWidget  = "closeWidget"
	ActionResizeWidget = "resizeWidget"
)

// cancelTimeout bounds the upstream cancel call.
const cancelTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Request is one message from a page script or widget.
type Request struct {
	ID     string         `json:"id,omitempty"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response answers a request. Events relayed between connections reuse
// the same shape with the originating action.
type Response struct {
	ID     string         `json:"id,omitempty"`
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
	Error  string         `json:"error,omitempty"`
}

// Caller is the slice of the API client the broker needs.
type Caller interface {
	CancelCall(ctx context.Context) error
}

// connection wraps one socket with a write lock, gorilla conns do not
// allow concurrent writers.
type connection struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *connection) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Broker dispatches page-script requests by action and relays widget
// control events between connections.
type Broker struct {
	store   *store.Store
	profile *userdata.Manager
	caller  Caller
	log     *logging.Logger
	metrics *monitoring.Metrics

	siteHost string

	mu    sync.RWMutex
	conns map[string]*connection
}

// New creates a broker.
func New(st *store.Store, profile *userdata.Manager, caller Caller, log *logging.Logger) *Broker {
	return &Broker{
		store:   st,
		profile: profile,
		caller:  caller,
		log:     log,
		conns:   make(map[string]*connection),
	}
}

// WithMetrics attaches a metrics registry.
func (b *Broker) WithMetrics(m *monitoring.Metrics) *Broker {
	b.metrics = m
	return b
}

// WithSiteURL teaches the broker which host the hosted voice site lives
// on, so pages there are never linkified.
func (b *Broker) WithSiteURL(siteURL string) *Broker {
	if u, err := url.Parse(siteURL); err == nil {
		b.siteHost = u.Host
	}
	return b
}

// HandleConnection upgrades the request and serves the read loop until
// the peer goes away.
func (b *Broker) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cn := &connection{id: uuid.NewString(), conn: conn}
	b.register(cn)
	defer b.unregister(cn)

	cn.send(Response{
		Action: "connected",
		Data:   map[string]any{"connection": cn.id},
	})

	reqCtx := c.Request.Context()
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Debug("websocket read error", zap.String("connection", cn.id), zap.Error(err))
			}
			return
		}
		b.dispatch(reqCtx, cn, req)
	}
}

// ConnectionCount returns the number of live connections.
func (b *Broker) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Broadcast sends an event to every connection, used by the badge and
// notification surfaces.
func (b *Broker) Broadcast(action string, data map[string]any) {
	b.mu.RLock()
	targets := make([]*connection, 0, len(b.conns))
	for _, cn := range b.conns {
		targets = append(targets, cn)
	}
	b.mu.RUnlock()

	for _, cn := range targets {
		if err := cn.send(Response{Action: action, Data: data}); err != nil {
			b.log.Debug("broadcast failed", zap.String("connection", cn.id), zap.Error(err))
		}
	}
}

// BroadcastFrame pushes one icon animation frame to every connection as
// an inline PNG.
func (b *Broker) BroadcastFrame(img image.Image, index int) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		b.log.Warn("frame encode failed", zap.Error(err))
		return
	}
	b.Broadcast("frame", map[string]any{
		"index": index,
		"image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

func (b *Broker) dispatch(ctx context.Context, cn *connection, req Request) {
	if b.metrics != nil {
		b.metrics.WSMessages.WithLabelValues(req.Action).Inc()
	}

	switch req.Action {
	case ActionLinks:
		b.respond(cn, req, b.linksData(req))
	case ActionPhones:
		b.respond(cn, req, b.phonesData(ctx))
	case ActionCancel:
		callCtx, cancel := context.WithTimeout(ctx, cancelTimeout)
		defer cancel()
		if err := b.caller.CancelCall(callCtx); err != nil {
			b.fail(cn, req, err)
			return
		}
		b.respond(cn, req, map[string]any{})
	case ActionCloseWidget, ActionResizeWidget:
		b.relay(cn, req)
		b.respond(cn, req, map[string]any{})
	default:
		b.respond(cn, req, map[string]any{})
	}
}

// linksData answers a page script asking whether to linkify. Pages on
// the hosted voice site never get links, the product renders its own.
func (b *Broker) linksData(req Request) map[string]any {
	loggedOut := b.store.IsSet(store.KeyLoggedOut) || b.store.IsSet(store.KeyIsClient)

	onSite := false
	if raw, ok := req.Params["url"].(string); ok && b.siteHost != "" {
		if u, err := url.Parse(raw); err == nil {
			onSite = u.Host == b.siteHost
		}
	}

	return map[string]any{
		"links":     !b.store.IsSet(store.KeyLinksOff) && !onSite,
		"select":    !b.store.IsSet(store.KeySelectOff) && !onSite,
		"loggedOut": loggedOut,
	}
}

// phonesData answers the widget asking for click-to-call options,
// loading the profile when the cache is empty.
func (b *Broker) phonesData(ctx context.Context) map[string]any {
	data, err := b.profile.Ensure(ctx)
	if err != nil {
		return map[string]any{"loggedOut": true}
	}

	did := ""
	if data.Number != nil {
		did = data.Number.Formatted
	}
	return map[string]any{
		"phones":     b.profile.CallPhones(),
		"contacts":   b.profile.Contacts(),
		"sms":        b.profile.CanSMS(),
		"savedPhone": b.store.Get(store.KeyPhone),
		"did":        did,
		"r":          data.R,
		"loggedOut":  false,
	}
}

// relay forwards a widget control event to every other connection. The
// widget host lives on a different socket than the frame that raised
// the event.
func (b *Broker) relay(from *connection, req Request) {
	b.mu.RLock()
	targets := make([]*connection, 0, len(b.conns))
	for _, cn := range b.conns {
		if cn.id != from.id {
			targets = append(targets, cn)
		}
	}
	b.mu.RUnlock()

	for _, cn := range targets {
		if err := cn.send(Response{Action: req.Action, Data: anyMap(req.Params)}); err != nil {
			b.log.Debug("relay failed", zap.String("connection", cn.id), zap.Error(err))
		}
	}
}

func (b *Broker) respond(cn *connection, req Request, data map[string]any) {
	if err := cn.send(Response{ID: req.ID, Action: req.Action, Data: data}); err != nil {
		b.log.Debug("response write failed", zap.String("connection", cn.id), zap.Error(err))
	}
}

func (b *Broker) fail(cn *connection, req Request, err error) {
	cn.send(Response{ID: req.ID, Action: req.Action, Data: map[string]any{}, Error: err.Error()})
}

func (b *Broker) register(cn *connection) {
	b.mu.Lock()
	b.conns[cn.id] = cn
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.WSConnections.Inc()
	}
	b.log.Debug("connection opened", zap.String("connection", cn.id))
}

func (b *Broker) unregister(cn *connection) {
	b.mu.Lock()
	delete(b.conns, cn.id)
	b.mu.Unlock()
	cn.conn.Close()
	if b.metrics != nil {
		b.metrics.WSConnections.Dec()
	}
	b.log.Debug("connection closed", zap.String("connection", cn.id))
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
