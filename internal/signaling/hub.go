package signaling

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Hub is the rendezvous server's event loop. It owns the client table and
// the room registry; every membership change and relay decision happens on
// the goroutine running Run.
type Hub struct {
	rooms   *Registry
	metrics *Metrics
	log     zerolog.Logger

	// clients maps participant ids to their connection.
	clients map[string]*Client

	registerc   chan *Client
	unregisterc chan *Client
	inbound     chan *Message
	done        chan struct{}
}

// NewHub creates a hub over rooms. metrics may be nil.
func NewHub(rooms *Registry, metrics *Metrics, log zerolog.Logger) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		rooms:       rooms,
		metrics:     metrics,
		log:         log.With().Str("component", "hub").Logger(),
		clients:     make(map[string]*Client),
		registerc:   make(chan *Client),
		unregisterc: make(chan *Client),
		inbound:     make(chan *Message),
		done:        make(chan struct{}),
	}
}

// Rooms returns the registry owned by the hub.
func (h *Hub) Rooms() *Registry { return h.rooms }

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Register hands a new connection to the hub. It reports false when the hub
// is no longer running.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.registerc <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisterc <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(m *Message) bool {
	select {
	case h.inbound <- m:
		return true
	case <-h.done:
		return false
	}
}

// Run processes hub events until ctx is cancelled. On return every client
// send channel is closed so write pumps can say goodbye.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for id, c := range h.clients {
			close(c.Send)
			delete(h.clients, id)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Int("clients", len(h.clients)).Msg("hub stopping")
			return

		case c := <-h.registerc:
			h.clients[c.ID] = c
			h.metrics.Participants.Inc()
			h.log.Debug().Str("participant", c.ID).Str("remote", remoteAddr(c)).Msg("client registered")

		case c := <-h.unregisterc:
			if _, ok := h.clients[c.ID]; !ok {
				continue
			}
			h.leave(c)
			delete(h.clients, c.ID)
			close(c.Send)
			h.metrics.Participants.Dec()
			h.log.Debug().Str("participant", c.ID).Msg("client unregistered")

		case m := <-h.inbound:
			if _, ok := h.clients[m.client.ID]; !ok {
				continue
			}
			h.handle(m)
		}
	}
}

func (h *Hub) handle(m *Message) {
	c := m.client
	switch {
	case m.Type == TypeJoinRoom:
		h.join(c, m.RoomID)
	case IsRelayed(m.Type):
		h.relay(c, m)
	default:
		h.log.Warn().Str("participant", c.ID).Str("type", m.Type).Msg("unknown message type")
		h.sendError(c, "unknown message type: "+m.Type)
	}
}

// join admits c into roomID. An empty roomID creates a room with a
// generated id.
func (h *Hub) join(c *Client, roomID string) {
	if c.RoomID != "" {
		h.sendError(c, "already in room "+c.RoomID)
		return
	}
	roomID = NormalizeRoomID(roomID)
	if roomID == "" {
		roomID = GenerateRoomID(h.rooms)
	}
	log := h.log.With().Str("room", roomID).Str("participant", c.ID).Logger()

	created := !h.rooms.Exists(roomID)
	adm, err := h.rooms.Join(roomID, c.ID)
	if errors.Is(err, ErrRoomFull) {
		log.Info().Msg("join rejected, room full")
		h.metrics.Joins.WithLabelValues("full").Inc()
		h.send(c, mustMessage(TypeJoinResult, JoinResult{Success: false, RoomID: roomID, Message: RoomFullMessage}))
		return
	}
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	c.RoomID = adm.RoomID
	if created {
		h.metrics.Rooms.Inc()
	}
	h.metrics.Joins.WithLabelValues(string(adm.Role)).Inc()
	log.Info().Str("role", string(adm.Role)).Int("count", adm.Count).Msg("joined room")

	if other, ok := h.clients[adm.Other]; ok {
		h.send(other, mustMessage(TypeUserJoined, Membership{ParticipantCount: adm.Count}))
	}

	result := mustMessage(TypeJoinResult, JoinResult{
		Success:          true,
		IsHost:           adm.Role == RoleHost,
		ParticipantCount: adm.Count,
		RoomID:           adm.RoomID,
	})
	result.RoomID = adm.RoomID
	h.send(c, result)

	// Only the host initiates negotiation.
	if adm.Count == RoomCapacity {
		if host, ok := h.clients[adm.Host]; ok {
			log.Debug().Str("host", host.ID).Msg("room full, starting call")
			h.send(host, &Message{Type: TypeStartCall, RoomID: adm.RoomID})
		}
	}
}

func (h *Hub) leave(c *Client) {
	if c.RoomID == "" {
		return
	}
	d, err := h.rooms.Leave(c.RoomID, c.ID)
	c.RoomID = ""
	if err != nil {
		return
	}
	log := h.log.With().Str("room", d.RoomID).Str("participant", c.ID).Logger()
	if d.Deleted {
		h.metrics.Rooms.Dec()
		log.Info().Msg("room deleted")
		return
	}
	log.Info().Int("remaining", d.Remaining).Msg("participant left")
	if other, ok := h.clients[d.Other]; ok {
		h.send(other, mustMessage(TypeUserLeft, Membership{ParticipantCount: d.Remaining}))
	}
}

// relay forwards m verbatim to the other occupant of the sender's room.
func (h *Hub) relay(c *Client, m *Message) {
	if c.RoomID == "" {
		h.sendError(c, "You must join a room first")
		return
	}
	log := h.log.With().Str("room", c.RoomID).Str("participant", c.ID).Str("type", m.Type).Logger()

	peerID, ok := h.rooms.Peer(c.RoomID, c.ID)
	target, connected := h.clients[peerID]
	if !ok || !connected {
		log.Debug().Msg("no peer in room, dropping")
		h.metrics.Dropped.WithLabelValues("peer_absent").Inc()
		return
	}
	h.metrics.Relayed.WithLabelValues(m.Type).Inc()
	h.send(target, &Message{Type: m.Type, Payload: m.Payload, RoomID: c.RoomID})
}

func (h *Hub) sendError(c *Client, text string) {
	h.send(c, mustMessage(TypeError, ErrorPayload{Error: text}))
}

// send queues m for c without blocking the hub. A client that cannot keep
// up loses the message.
func (h *Hub) send(c *Client, m *Message) {
	select {
	case c.Send <- m:
	default:
		h.metrics.Dropped.WithLabelValues("slow_client").Inc()
		h.log.Warn().Str("participant", c.ID).Str("type", m.Type).Msg("send buffer full, dropping")
	}
}

func remoteAddr(c *Client) string {
	if c.Conn == nil {
		return ""
	}
	return c.Conn.RemoteAddr().String()
}
