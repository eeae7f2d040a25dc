// Package bus holds the live-client registry shared between the connection
// workers and the game handlers: each connected socket is one Client, and
// the Broadcaster fans envelopes out to whoever is logged in as a player.
package bus

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

// Client is the per-connection context. It is owned by its worker goroutine;
// only Send and the player-id accessors are safe from other goroutines.
type Client struct {
	ID   uuid.UUID
	Peer string

	mu       sync.Mutex
	w        io.Writer
	playerID int64
}

func NewClient(w io.Writer, peer string) *Client {
	return &Client{ID: uuid.New(), Peer: peer, w: w}
}

// Send writes one envelope as a single JSON line. Serialized per client so
// broadcast deliveries never interleave with command responses.
func (c *Client) Send(resp *proto.Response) error {
	buf, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(buf); err != nil {
		return err
	}
	_, err = c.w.Write([]byte{'\n'})
	return err
}

func (c *Client) PlayerID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Client) SetPlayerID(id int64) {
	c.mu.Lock()
	c.playerID = id
	c.mu.Unlock()
}

// Broadcaster is the process-wide registry of live clients.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*Client
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[uuid.UUID]*Client)}
}

func (b *Broadcaster) Register(c *Client) {
	b.mu.Lock()
	b.clients[c.ID] = c
	b.mu.Unlock()
}

func (b *Broadcaster) Unregister(c *Client) {
	b.mu.Lock()
	delete(b.clients, c.ID)
	b.mu.Unlock()
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// DeliverToPlayer sends an ok envelope to every connection logged in as
// playerID and reports how many deliveries succeeded. Send errors are the
// owning worker's problem; a dead socket just counts as undelivered.
func (b *Broadcaster) DeliverToPlayer(playerID int64, typ string, data any) int {
	b.mu.Lock()
	targets := make([]*Client, 0, 2)
	for _, c := range b.clients {
		if c.PlayerID() == playerID {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	n := 0
	for _, c := range targets {
		if err := c.Send(proto.OK(typ, data)); err == nil {
			n++
		}
	}
	return n
}

// BroadcastAuthed fans an ok envelope out to every logged-in connection,
// skipping the sender when skipPlayer is nonzero.
func (b *Broadcaster) BroadcastAuthed(skipPlayer int64, typ string, data any) int {
	b.mu.Lock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		if id := c.PlayerID(); id != 0 && id != skipPlayer {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	n := 0
	for _, c := range targets {
		if err := c.Send(proto.OK(typ, data)); err == nil {
			n++
		}
	}
	return n
}
