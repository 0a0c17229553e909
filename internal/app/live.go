package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ac484/Xuanwu-sub001/internal/capability"
	"github.com/ac484/Xuanwu-sub001/internal/eventbus"
	"github.com/ac484/Xuanwu-sub001/internal/rbac"
	"github.com/ac484/Xuanwu-sub001/internal/session"
)

// Live frame subjects. A frame is "subject[#token]\n{json}"; replies carry
// the token of the request they answer.
const (
	SubjSelect = "select"
	SubjRender = "render"
	SubjAction = "action"
	SubjLike   = "like"

	SubjStatus = "status"
	SubjState  = "state"
	SubjNotice = "notice"
	SubjEvent  = "event"
	SubjError  = "error"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 8 << 20
)

type Msg struct {
	Subj string
	Tok  string
	Raw  []byte
	Data any
}

func readMsg(frame []byte) (Msg, error) {
	var tok, body []byte
	head := frame
	if idx := bytes.IndexByte(head, '\n'); idx >= 0 {
		head, body = head[:idx], head[idx+1:]
	}
	if idx := bytes.IndexByte(head, '#'); idx >= 0 {
		head, tok = head[:idx], head[idx+1:]
	}
	if len(head) == 0 {
		return Msg{}, errors.New("message without subject")
	}
	return Msg{Subj: string(head), Tok: string(tok), Raw: append([]byte(nil), body...)}, nil
}

func writeMsgTo(b *bytes.Buffer, m Msg) error {
	b.WriteString(m.Subj)
	if m.Tok != "" {
		b.WriteByte('#')
		b.WriteString(m.Tok)
	}
	if len(m.Raw) != 0 {
		b.WriteByte('\n')
		b.Write(m.Raw)
		return nil
	}
	if m.Data != nil {
		b.WriteByte('\n')
		return json.NewEncoder(b).Encode(m.Data)
	}
	return nil
}

type liveConn struct {
	wc       *websocket.Conn
	service  *Service
	provider *session.Provider
	send     chan Msg
	done     chan struct{}
	stopped  chan struct{}
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.corsOrigin == "*" {
		return true
	}
	return origin == s.corsOrigin
}

func (s *HTTPServer) serveLive(w http.ResponseWriter, r *http.Request, actor rbac.Actor) {
	upgr := &websocket.Upgrader{CheckOrigin: s.checkOrigin}
	wc, err := upgr.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: upgrade failed: %v", err)
		return
	}
	wc.SetReadLimit(maxFrameSize)

	c := &liveConn{
		wc:      wc,
		service: s.service,
		send:    make(chan Msg, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.provider = s.service.NewProvider(actor, c)

	go c.write()

	err = c.read(r.Context())
	close(c.done)
	c.provider.Close()
	<-c.stopped
	if err != nil {
		log.Printf("live: read failed: %v", err)
	}
}

func (c *liveConn) read(ctx context.Context) error {
	for {
		op, frame, err := c.wc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}
		if op != websocket.TextMessage {
			continue
		}
		m, err := readMsg(frame)
		if err != nil {
			c.push(Msg{Subj: SubjError, Data: errorBody("INVALID_FRAME", err.Error())})
			continue
		}
		c.handle(ctx, m)
	}
}

// write sends queued frames until the connection ends. On a write failure
// it closes the socket, which also ends the read loop.
func (c *liveConn) write() {
	defer close(c.stopped)
	defer c.wc.Close()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	var b bytes.Buffer
	for {
		select {
		case <-c.done:
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-c.send:
			b.Reset()
			if err := writeMsgTo(&b, m); err != nil {
				log.Printf("live: encode %s: %v", m.Subj, err)
				continue
			}
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.TextMessage, b.Bytes()); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues m for the writer. Frames pushed after the connection ended,
// or after the writer stopped, are dropped.
func (c *liveConn) push(m Msg) {
	select {
	case c.send <- m:
	case <-c.done:
	case <-c.stopped:
	}
}

// Attach forwards the events of every session the connection mounts.
func (c *liveConn) Attach(bus *eventbus.Bus) func() {
	return bus.Subscribe(eventbus.Wildcard, func(_ context.Context, ev eventbus.Event) error {
		switch {
		case ev.Type == session.EventStateChanged:
			c.push(Msg{Subj: SubjState, Data: ev.Payload})
		case ev.Type == session.EventNoticeError, ev.Type == session.EventSyncError:
			c.push(Msg{Subj: SubjNotice, Data: eventBody(ev)})
		case ev.Type == session.EventLikeChanged:
			c.push(Msg{Subj: SubjLike, Data: ev.Payload})
		default:
			c.push(Msg{Subj: SubjEvent, Data: eventBody(ev)})
		}
		return nil
	})
}

func eventBody(ev eventbus.Event) map[string]any {
	return map[string]any{"type": ev.Type, "payload": ev.Payload, "at": ev.At}
}

func errorBody(code, message string) map[string]any {
	return map[string]any{"code": code, "error": message}
}

type statusBody struct {
	Entity session.Entity `json:"entity"`
	Status session.Status `json:"status"`
	Error  string         `json:"error,omitempty"`
}

func (c *liveConn) status() statusBody {
	entity, status, err := c.provider.Status()
	body := statusBody{Entity: entity, Status: status}
	if err != nil {
		body.Error = err.Error()
	}
	return body
}

func (c *liveConn) reply(req Msg, data any) {
	c.push(Msg{Subj: req.Subj, Tok: req.Tok, Data: data})
}

func (c *liveConn) fail(req Msg, err error) {
	c.push(Msg{Subj: SubjError, Tok: req.Tok, Data: mapError(err).body()})
}

func (c *liveConn) handle(ctx context.Context, m Msg) {
	switch m.Subj {
	case SubjSelect:
		var body session.Entity
		if err := decodeBody(m.Raw, &body); err != nil {
			c.fail(m, invalidInput(err))
			return
		}
		_, _ = c.provider.Select(ctx, body)
		c.push(Msg{Subj: SubjStatus, Tok: m.Tok, Data: c.status()})

	case SubjRender:
		var body struct {
			Key  string `json:"key"`
			Mode string `json:"mode"`
		}
		if err := decodeBody(m.Raw, &body); err != nil {
			c.fail(m, invalidInput(err))
			return
		}
		mode, ok := capability.ParseMode(body.Mode)
		if !ok {
			c.fail(m, invalidInput(errors.New("mode must be single or aggregated")))
			return
		}
		if body.Key == "" {
			body.Key = c.service.DefaultCapability()
		}
		c.reply(m, c.provider.Render(ctx, body.Key, mode))

	case SubjAction:
		var body struct {
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}
		if err := decodeBody(m.Raw, &body); err != nil {
			c.fail(m, invalidInput(err))
			return
		}
		sess := c.provider.Session()
		if sess == nil {
			c.fail(m, session.ErrNotResolvable)
			return
		}
		result, err := runAction(ctx, sess, body.Name, body.Input)
		if err != nil {
			c.fail(m, err)
			return
		}
		c.reply(m, map[string]any{"ok": true, "result": result})

	case SubjLike:
		var body struct {
			EntryID string `json:"entryId"`
		}
		if err := decodeBody(m.Raw, &body); err != nil || strings.TrimSpace(body.EntryID) == "" {
			c.fail(m, invalidInput(errors.New("entryId is required")))
			return
		}
		sess := c.provider.Session()
		if sess == nil {
			c.fail(m, session.ErrNotResolvable)
			return
		}
		like, err := sess.ToggleLike(ctx, body.EntryID)
		if err != nil {
			c.fail(m, err)
			return
		}
		c.reply(m, session.LikeChange{EntryID: body.EntryID, Like: like})

	default:
		c.push(Msg{Subj: SubjError, Tok: m.Tok, Data: errorBody("UNKNOWN_SUBJECT", "unknown subject "+m.Subj)})
	}
}
