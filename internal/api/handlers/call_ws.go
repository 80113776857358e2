package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/mockcall/internal/callcontext"
	"github.com/yoockh/mockcall/internal/congruency"
	"github.com/yoockh/mockcall/internal/logger"
	"github.com/yoockh/mockcall/internal/session"
	"github.com/yoockh/mockcall/internal/utils"
)

type CallWSConfig struct {
	Session      session.Config
	Gate         congruency.Config
	Agents       session.Agents
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
}

type CallWSDeps struct {
	Contexts  callcontext.Store
	Registry  *session.Registry
	Generator session.Generator
	Judge     congruency.Completer
	Restorer  session.CreditRestorer
	Events    session.EventRecorder
	Config    CallWSConfig
	Log       logrus.FieldLogger
}

// CallWSHandler bridges the voice transport's per-call socket to a session
// orchestrator.
type CallWSHandler struct {
	d        CallWSDeps
	upgrader websocket.Upgrader
}

func NewCallWSHandler(d CallWSDeps) *CallWSHandler {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Config.ReadTimeout <= 0 {
		d.Config.ReadTimeout = 60 * time.Second
	}
	if d.Config.WriteTimeout <= 0 {
		d.Config.WriteTimeout = 10 * time.Second
	}
	if d.Config.PingInterval <= 0 {
		d.Config.PingInterval = d.Config.ReadTimeout / 2
	}
	return &CallWSHandler{
		d: d,
		upgrader: websocket.Upgrader{
			// the voice provider connects server to server; there is no browser origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type wsConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func (w *wsConn) Send(_ context.Context, frame any) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout))
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		_ = w.c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
			time.Now().Add(time.Second))
		err = w.c.Close()
	})
	return err
}

// The transport addresses a call either as /llm-websocket/<call_id> or as
// /llm-websocket/<placeholder>/<call_id>. gin needs one wildcard name per
// position, so the first segment is call_ref in both routes.
const (
	CallWSPath         = "/llm-websocket/:call_ref"
	CallWSPrefixedPath = "/llm-websocket/:call_ref/:call_id"
)

// Connect serves both call socket routes. Unknown or placeholder ids are
// refused before the upgrade, so no session state is created for them.
func (h *CallWSHandler) Connect(c *gin.Context) {
	const op = "CallWSHandler.Connect"

	callID, ok := session.ResolveCallID(c.Param("call_ref"), c.Param("call_id"))
	if !ok {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing or placeholder call id", nil))
		return
	}
	c.Set("call_id", callID)
	log := logger.ForCall(h.d.Log, callID)

	cc, err := h.d.Contexts.Get(c.Request.Context(), callID)
	if err != nil {
		log.WithError(err).Warn("refusing call without context")
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already replied
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	wc := &wsConn{c: conn, writeTimeout: h.d.Config.WriteTimeout}

	o, err := session.New(session.Deps{
		Call:      cc,
		Sender:    wc,
		Generator: h.d.Generator,
		Gate:      congruency.NewGate(h.d.Judge, h.d.Config.Gate, nil, log),
		Restorer:  h.d.Restorer,
		Events:    h.d.Events,
		Agents:    h.d.Config.Agents,
		Config:    h.d.Config.Session,
		Log:       h.d.Log,
	})
	if err != nil {
		log.WithError(err).Error("cannot start session")
		_ = wc.Close()
		return
	}
	h.d.Registry.Register(o)

	// the hijacked request's context says nothing about the socket
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		log.WithError(err).Warn("handshake send failed")
		o.Close(session.ReasonTransportError)
		return
	}
	go h.keepalive(ctx, wc, o)
	h.readLoop(ctx, conn, o, log)
}

func (h *CallWSHandler) readLoop(ctx context.Context, conn *websocket.Conn, o *session.Orchestrator, log logrus.FieldLogger) {
	timeout := h.d.Config.ReadTimeout
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason := session.ReasonTransportError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = session.ReasonClientHangup
			} else if o.State() != session.StateClosed {
				log.WithError(err).Info("socket read ended")
			}
			o.Close(reason)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))

		if err := o.Handle(ctx, data); errors.Is(err, session.ErrClosed) {
			return
		}
	}
}

func (h *CallWSHandler) keepalive(ctx context.Context, wc *wsConn, o *session.Orchestrator) {
	t := time.NewTicker(h.d.Config.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.Done():
			return
		case <-t.C:
			if err := wc.ping(); err != nil {
				return
			}
		}
	}
}
