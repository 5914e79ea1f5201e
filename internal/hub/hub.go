// Package hub maintains per-topic client membership and per-client
// mailboxes for the channel multiplexer. Generalized from a nil-safe
// non-blocking broadcast bus (deliver to every subscriber) to
// "deliver to the members of one topic", plus a dedicated Broadcast
// path grounded on original_source/src/tangram/channels.py's
// system_broadcast.
package hub

import "sync"

// MailboxSize is the default bounded mailbox capacity per client.
const MailboxSize = 256

// Frame is one outbound item placed in a client's mailbox: the raw
// encoded envelope bytes ready to write to the transport.
type Frame []byte

// Mailbox is a bounded, FIFO outbound queue for one client session.
// On overflow, Enqueue drops the oldest frame and marks the mailbox
// stale.
type Mailbox struct {
	mu     sync.Mutex
	frames []Frame
	cap    int
	stale  bool
	notify chan struct{}
}

// NewMailbox returns an empty mailbox with the given bounded capacity.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = MailboxSize
	}
	return &Mailbox{cap: capacity, notify: make(chan struct{}, 1)}
}

// Enqueue appends frame, FIFO. If the mailbox is at capacity the
// oldest frame is dropped to make room and Stale becomes true.
func (m *Mailbox) Enqueue(frame Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) >= m.cap {
		m.frames = m.frames[1:]
		m.stale = true
	}
	m.frames = append(m.frames, frame)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued frame, FIFO order preserved.
func (m *Mailbox) Drain() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.frames
	m.frames = nil
	return out
}

// Notify returns a channel that receives a value whenever Enqueue adds
// a frame, so a session's write loop can block until there is work.
func (m *Mailbox) Notify() <-chan struct{} {
	return m.notify
}

// Stale reports whether this mailbox has ever overflowed. Once true,
// the session loop is expected to close the session.
func (m *Mailbox) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

// Hub maintains topic -> set<client_id> and client_id -> mailbox
// mappings.
type Hub struct {
	mu        sync.RWMutex
	topics    map[string]map[string]struct{}
	mailboxes map[string]*Mailbox
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{
		topics:    make(map[string]map[string]struct{}),
		mailboxes: make(map[string]*Mailbox),
	}
}

// Register creates (or replaces) the mailbox for client, to be called
// once at session accept, before any Join.
func (h *Hub) Register(client string, mailbox *Mailbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mailboxes[client] = mailbox
}

// Join adds client to topic's membership set. Joining a topic twice
// from one client leaves exactly one membership edge.
func (h *Hub) Join(client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]struct{})
		h.topics[topic] = members
	}
	members[client] = struct{}{}
}

// Leave removes client from topic's membership set. Leaving once
// removes the edge; leaving when absent is a no-op.
func (h *Hub) Leave(client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.topics[topic]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Drop removes client from every topic and its mailbox, called on
// session close.
func (h *Hub) Drop(client string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, members := range h.topics {
		delete(members, client)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(h.mailboxes, client)
}

// Members returns a snapshot of topic's current membership.
func (h *Hub) Members(topic string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.topics[topic]
	out := make([]string, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Deliver enqueues frame to every current member of topic's mailbox.
// Members() and Deliver() together hold the hub's read lock so a
// client removed by a concurrent Leave/Drop before Deliver visits it
// receives nothing.
func (h *Hub) Deliver(topic string, frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.topics[topic] {
		if mb, ok := h.mailboxes[client]; ok {
			mb.Enqueue(frame)
		}
	}
}

// Broadcast enqueues frame to every registered client's mailbox,
// independent of topic membership — the system-wide announcement path.
func (h *Hub) Broadcast(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, mb := range h.mailboxes {
		mb.Enqueue(frame)
	}
}

// Mailbox returns client's mailbox, or nil if the client is not
// registered.
func (h *Hub) Mailbox(client string) *Mailbox {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mailboxes[client]
}
