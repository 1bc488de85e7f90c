package agent

import (
	"context"
	"io"
	"sync"

	"github.com/trailbench/trailbench/internal/protocol"
)

// MCPServer describes an MCP server made available to a new session.
type MCPServer struct {
	Name    string
	Command string
	Args    []string
}

// Connection is one live connection to an agent process. The wire-level
// implementation (message framing, transport) lives outside this module; a
// Dialer supplies it.
type Connection interface {
	// NewSession starts a session rooted at cwd and returns its id.
	NewSession(ctx context.Context, cwd string, mcpServers []MCPServer) (string, error)

	// Prompt sends prompt blocks to the session and blocks until the agent
	// stops, returning the stop reason.
	Prompt(ctx context.Context, sessionID string, blocks []protocol.ContentBlock) (protocol.StopReason, error)

	Close() error
}

// Dialer establishes a Connection over the agent process's stdio, delivering
// session updates to the given client as they arrive.
type Dialer interface {
	Dial(ctx context.Context, client *Client, stdin io.WriteCloser, stdout io.Reader) (Connection, error)
}

// streamCapacity bounds in-flight updates per session; a full stream applies
// backpressure to the wire layer rather than dropping events.
const streamCapacity = 256

// Client receives session updates pushed by the wire layer and exposes one
// ordered stream per session. Updates are delivered in send order without
// reordering or drops.
type Client struct {
	mu      sync.Mutex
	streams map[string]chan protocol.SessionUpdate
	closed  bool
}

// NewClient returns a client with no open streams.
func NewClient() *Client {
	return &Client{streams: make(map[string]chan protocol.SessionUpdate)}
}

func (c *Client) stream(sessionID string) chan protocol.SessionUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	stream, ok := c.streams[sessionID]
	if !ok {
		stream = make(chan protocol.SessionUpdate, streamCapacity)
		if c.closed {
			close(stream)
		}
		c.streams[sessionID] = stream
	}
	return stream
}

// Deliver enqueues an update on the session's stream. Wire implementations
// call this for every session/update notification.
func (c *Client) Deliver(sessionID string, update protocol.SessionUpdate) {
	c.stream(sessionID) <- update
}

// Updates returns the ordered update stream for a session.
func (c *Client) Updates(sessionID string) <-chan protocol.SessionUpdate {
	return c.stream(sessionID)
}

// Close ends every open stream. Callers must not Deliver afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, stream := range c.streams {
		close(stream)
	}
}
