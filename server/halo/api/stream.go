package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"halo_server/server/common/infra/docstore"
	commonlog "halo_server/server/common/log"
	"halo_server/server/common/transport/httpresp"
	"halo_server/server/halo/domain"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
)

type wsFrame struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// frameQueue keeps only the newest snapshot: every emission is a full result
// set, so a slow socket can skip intermediate ones. An error frame is final.
type frameQueue struct {
	mu       sync.Mutex
	snapshot *wsFrame
	failure  *wsFrame
	signal   chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{signal: make(chan struct{}, 1)}
}

func (q *frameQueue) push(data any) {
	q.mu.Lock()
	q.snapshot = &wsFrame{Type: "snapshot", Data: data}
	q.mu.Unlock()
	q.wake()
}

func (q *frameQueue) fail(err error) {
	q.mu.Lock()
	if q.failure == nil {
		q.failure = &wsFrame{Type: "error", Error: publicMessage(err, statusFor(err))}
	}
	q.mu.Unlock()
	q.wake()
}

func (q *frameQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *frameQueue) take() (snapshot, failure *wsFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	snapshot, q.snapshot = q.snapshot, nil
	return snapshot, q.failure
}

// openFunc starts a subscription whose emissions go to q.
type openFunc func(ctx context.Context, caller domain.Identity, q *frameQueue) (docstore.Subscription, error)

// stream opens the subscription before upgrading so that validation failures
// are reported with a plain HTTP status.
func (h *Handler) stream(c *gin.Context, kind string, open openFunc) {
	if !h.originAllowed(c.Request) {
		commonlog.Warnf("event=halo_ws_upgrade kind=%s status=rejected origin=%q", kind, c.GetHeader("Origin"))
		c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrForbidden))
		return
	}
	q := newFrameQueue()
	sub, err := open(c.Request.Context(), caller(c), q)
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Stop()

	upgrader := websocket.Upgrader{CheckOrigin: h.originAllowed}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("event=halo_ws_upgrade kind=%s status=failed err=%v", kind, err)
		return
	}
	defer conn.Close()
	if h.metrics != nil {
		defer h.metrics.TrackSubscription(kind)()
	}
	commonlog.Debugf("event=halo_ws_subscribe kind=%s user_id=%s status=open", kind, caller(c).ID)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-q.signal:
			snapshot, failure := q.take()
			if snapshot != nil {
				if err := writeFrame(conn, snapshot); err != nil {
					return
				}
			}
			if failure != nil {
				_ = writeFrame(conn, failure)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, failure.Error),
					time.Now().Add(wsWriteTimeout))
				return
			}
		}
	}
}

// originAllowed accepts requests without an Origin header (non-browser
// clients), same-host origins and the configured allow list.
func (h *Handler) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

func writeFrame(conn *websocket.Conn, f *wsFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (h *Handler) streamUsers(c *gin.Context) {
	h.stream(c, "users", func(ctx context.Context, who domain.Identity, q *frameQueue) (docstore.Subscription, error) {
		return h.dir.FetchUsers(ctx, who, func(users []domain.UserDetails) {
			q.push(nonNil(users))
		}, q.fail)
	})
}

func (h *Handler) streamRooms(c *gin.Context) {
	h.stream(c, "rooms", func(ctx context.Context, who domain.Identity, q *frameQueue) (docstore.Subscription, error) {
		return h.rooms.FetchRooms(ctx, who, func(rooms []domain.RoomDetails) {
			q.push(nonNil(rooms))
		}, q.fail)
	})
}

func (h *Handler) streamAgentRooms(c *gin.Context) {
	tags := csv(c.Query("tags"))
	h.stream(c, "agent_rooms", func(ctx context.Context, who domain.Identity, q *frameQueue) (docstore.Subscription, error) {
		return h.rooms.FetchRoomsByAgentTags(ctx, who, tags, func(rooms []domain.RoomDetails) {
			q.push(nonNil(rooms))
		}, q.fail)
	})
}

func (h *Handler) streamMessages(c *gin.Context) {
	roomID := c.Param("roomId")
	h.stream(c, "messages", func(ctx context.Context, who domain.Identity, q *frameQueue) (docstore.Subscription, error) {
		return h.ledger.FetchMessages(ctx, who, roomID, func(msgs []domain.Message) {
			q.push(nonNil(msgs))
		}, q.fail)
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
