package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/observer/collegecue/internal/domain"
	"github.com/observer/collegecue/internal/metrics"
)

// Acceptor completes the protocol handshake for one incoming connection
type Acceptor interface {
	Accept() (Conn, error)
}

// AcceptorFunc adapts a function to Acceptor
type AcceptorFunc func() (Conn, error)

func (f AcceptorFunc) Accept() (Conn, error) {
	return f()
}

// ConnectionError reports a Join whose handshake never completed
type ConnectionError struct {
	Group string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("join group %q: handshake failed: %v", e.Group, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Hub maintains the live connections of each group and fans messages out to them
type Hub struct {
	// Group name -> member connections. A group with no members is never kept.
	groups map[string][]*Client

	// Mutex for thread-safe access
	mu sync.RWMutex

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHub creates an empty Hub
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		groups:  make(map[string][]*Client),
		metrics: m,
		logger:  logger.With("component", "hub"),
	}
}

// Join accepts the connection and registers it as a member of group. The
// same peer may join more than once; every Join is a separate membership.
// A failed handshake returns a *ConnectionError and leaves the hub untouched.
func (h *Hub) Join(group string, acceptor Acceptor) (*Client, error) {
	conn, err := acceptor.Accept()
	if err != nil {
		return nil, &ConnectionError{Group: group, Err: err}
	}

	client := newClient(conn, h.logger.With("group", group))

	h.mu.Lock()
	h.groups[group] = append(h.groups[group], client)
	members := len(h.groups[group])
	groups := len(h.groups)
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.metrics.SetGroups(groups)

	go client.writePump()

	h.logger.Debug("client joined group", "group", group, "client_id", client.ID(), "members", members, "remote_addr", conn.RemoteAddr())
	return client, nil
}

// Leave removes one membership of client from group, matched by identity.
// Unknown groups and non-members are ignored, so cleanup paths may race.
func (h *Hub) Leave(group string, client *Client) {
	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		h.mu.Unlock()
		return
	}

	idx := slices.Index(members, client)
	if idx < 0 {
		h.mu.Unlock()
		return
	}

	members = slices.Delete(members, idx, idx+1)
	if len(members) == 0 {
		delete(h.groups, group)
	} else {
		h.groups[group] = members
	}
	groups := len(h.groups)
	h.mu.Unlock()

	h.metrics.ConnectionClosed()
	h.metrics.SetGroups(groups)

	h.logger.Debug("client left group", "group", group, "client_id", client.ID(), "members", len(members))
}

// Broadcast queues {"message": message} for every member of group at the
// time of the call and returns how many members accepted it. A member that
// cannot take the message is logged and skipped; it is not removed here,
// its own disconnect handling calls Leave.
func (h *Hub) Broadcast(group, message string) int {
	h.mu.RLock()
	members, ok := h.groups[group]
	if !ok {
		h.mu.RUnlock()
		return 0
	}

	// Copy clients to avoid holding lock during send
	clients := slices.Clone(members)
	h.mu.RUnlock()

	data, err := json.Marshal(Envelope{Message: message})
	if err != nil {
		h.logger.Error("failed to encode envelope", "error", err)
		return 0
	}

	h.metrics.Broadcast()

	delivered := 0
	for _, client := range clients {
		if err := client.Send(data); err != nil {
			result := metrics.ResultFailed
			if errors.Is(err, domain.ErrSendBufferFull) {
				result = metrics.ResultDropped
			}
			h.metrics.Delivery(result)
			h.logger.Warn("failed to deliver to member", "group", group, "client_id", client.ID(), "error", err)
			continue
		}
		h.metrics.Delivery(metrics.ResultQueued)
		delivered++
	}
	return delivered
}

// Groups returns the names of all groups with at least one member
func (h *Hub) Groups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.groups))
	for name := range h.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MemberCount returns the number of memberships in group
func (h *Hub) MemberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// CloseAll closes every member connection. Their handlers then Leave.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var clients []*Client
	for _, members := range h.groups {
		clients = append(clients, members...)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.Close()
	}
}
