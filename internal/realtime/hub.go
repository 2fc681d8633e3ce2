package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/metrics"
)

// MediaSource returns the current media of a project for init payloads.
type MediaSource func(ctx context.Context, projectID string) ([]element.Element, error)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubSettings sets transport timing.
func WithHubSettings(s Settings) HubOption {
	return func(h *Hub) {
		h.settings = s
	}
}

// WithMediaSource makes init payloads carry the project's media.
func WithMediaSource(fn MediaSource) HubOption {
	return func(h *Hub) {
		h.media = fn
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithCheckOrigin sets the handshake origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// Hub is the server side of the realtime channel. Each project has a room;
// messages from one member are relayed to every other member. The room
// keeps the latest generator overlays and sends them as init to members
// that join. Media messages are relayed and never retained.
//
// Thread-safety: safe for concurrent use.
type Hub struct {
	settings Settings
	media    MediaSource
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

type room struct {
	members  map[*member]struct{}
	overlays map[string]element.Element
	order    []string
}

type member struct {
	project string
	ws      *websocket.Conn
	send    chan Message
	done    chan struct{}
	once    sync.Once
}

func (m *member) close() {
	m.once.Do(func() { close(m.done) })
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		settings: DefaultSettings(),
		logger:   slog.Default(),
		rooms:    make(map[string]*room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) roomLocked(project string) *room {
	r, ok := h.rooms[project]
	if !ok {
		r = &room{members: make(map[*member]struct{}), overlays: make(map[string]element.Element)}
		h.rooms[project] = r
	}
	return r
}

// Overlays returns the generator overlays retained for project, in the
// order they were created.
func (h *Hub) Overlays(project string) []element.Element {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[project]
	if !ok {
		return nil
	}
	out := make([]element.Element, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.overlays[id])
	}
	return out
}

// Members returns the number of connections in project's room.
func (h *Hub) Members(project string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[project]; ok {
		return len(r.members)
	}
	return 0
}

// Publish relays a server-originated message to every member of project.
func (h *Hub) Publish(project string, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.roomLocked(project)
	h.retainLocked(r, m)
	h.broadcastLocked(r, nil, m)
	return nil
}

// retainLocked folds generator events into the room's overlay state.
func (h *Hub) retainLocked(r *room, m Message) {
	switch m.Type {
	case TypeGeneratorCreate:
		if _, ok := r.overlays[m.Element.ID]; ok {
			return
		}
		r.overlays[m.Element.ID] = *m.Element
		r.order = append(r.order, m.Element.ID)
	case TypeGeneratorUpdate:
		cur, ok := r.overlays[m.ElementID]
		if !ok {
			return
		}
		next, err := cur.Apply(m.Updates)
		if err != nil {
			h.logger.Warn("overlay update rejected", "element_id", m.ElementID, "error", err)
			return
		}
		r.overlays[m.ElementID] = next
	case TypeGeneratorDelete:
		if _, ok := r.overlays[m.ElementID]; !ok {
			return
		}
		delete(r.overlays, m.ElementID)
		r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == m.ElementID })
	}
}

func (h *Hub) broadcastLocked(r *room, from *member, m Message) {
	for mem := range r.members {
		if mem == from {
			continue
		}
		select {
		case mem.send <- m:
		default:
			h.logger.Warn("realtime member too slow, disconnecting", "project", mem.project)
			mem.close()
		}
	}
}

// ServeProject upgrades the request and joins the connection to project's
// room until it disconnects.
func (h *Hub) ServeProject(w http.ResponseWriter, r *http.Request, project string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade the websocket", "project", project, "error", err)
		return
	}
	defer ws.Close()

	mem := &member{
		project: project,
		ws:      ws,
		send:    make(chan Message, max(h.settings.SendBuffer, 1)),
		done:    make(chan struct{}),
	}

	init := Message{Type: TypeInit, ProjectID: project}
	if h.media != nil {
		media, err := h.media(r.Context(), project)
		if err != nil {
			h.logger.Warn("init media unavailable", "project", project, "error", err)
		}
		init.Media = media
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	rm := h.roomLocked(project)
	for _, id := range rm.order {
		init.Generators = append(init.Generators, rm.overlays[id])
	}
	rm.members[mem] = struct{}{}
	mem.send <- init
	h.mu.Unlock()

	metrics.RealtimeConnectionOpened()
	h.logger.Info("realtime member joined", "project", project, "remote", r.RemoteAddr)
	defer func() {
		h.mu.Lock()
		delete(rm.members, mem)
		h.mu.Unlock()
		metrics.RealtimeConnectionClosed()
		h.logger.Info("realtime member left", "project", project, "remote", r.RemoteAddr)
	}()

	go h.writePump(mem)
	h.readPump(mem, rm)
	mem.close()
}

func (h *Hub) readPump(mem *member, rm *room) {
	ws := mem.ws
	ws.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
	})
	go func() {
		<-mem.done
		ws.SetReadDeadline(time.Now())
	}()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
		m, err := DecodeMessage(data)
		if err != nil {
			h.logger.Warn("realtime message dropped", "project", mem.project, "error", err)
			continue
		}
		if m.Type.Lifecycle() || m.Type == TypeInit {
			continue
		}
		metrics.RecordRealtimeMessage("in", string(m.Type))
		m.ProjectID = mem.project

		h.mu.Lock()
		h.retainLocked(rm, m)
		h.broadcastLocked(rm, mem, m)
		h.mu.Unlock()
	}
}

func (h *Hub) writePump(mem *member) {
	ws := mem.ws
	ping := time.NewTicker(h.settings.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-mem.done:
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.settings.WriteTimeout))
			return
		case m := <-mem.send:
			ws.SetWriteDeadline(time.Now().Add(h.settings.WriteTimeout))
			if err := ws.WriteJSON(m); err != nil {
				mem.close()
				return
			}
			metrics.RecordRealtimeMessage("out", string(m.Type))
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.settings.WriteTimeout)); err != nil {
				mem.close()
				return
			}
		}
	}
}

// Close disconnects every member. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, r := range h.rooms {
		for mem := range r.members {
			mem.close()
		}
	}
}
