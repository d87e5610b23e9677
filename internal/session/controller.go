package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"glata-console/internal/api"
	"glata-console/internal/protocol"
	"glata-console/internal/transcript"
	"glata-console/internal/ws"
	"glata-console/pkg/logger"
)

// ErrNoChat is returned by Submit when no chat exists and the controller has
// no API client to create one with.
var ErrNoChat = errors.New("session: no chat selected")

const defaultHistoryPageSize = 50

// Conn is the connection surface the controller consumes; *ws.Manager
// satisfies it.
type Conn interface {
	Send(v any) error
	Frames() <-chan []byte
	States() <-chan ws.State
	State() ws.State
	Close() error
}

// API is the REST collaborator surface; *api.Client satisfies it. May be nil
// for callers that manage chats themselves.
type API interface {
	CreateChat(ctx context.Context, req api.CreateChatRequest) (*api.Chat, error)
	History(ctx context.Context, chatID string, page, pageSize int) ([]transcript.HistoryRecord, error)
}

type Config struct {
	Conn Conn
	API  API
	// AgentInstanceID routes turns to a specific agent; empty omits it from
	// outbound frames.
	AgentInstanceID string
	// HistoryPageSize is how many records SwitchChat fetches.
	HistoryPageSize int
}

// Controller owns one chat session: it folds inbound frames into the
// transcript in strict arrival order, submits turns, and switches chats.
// The connection outlives chat switches; it is keyed to the user, not to a
// chat. One controller is built per active session and torn down with Close.
type Controller struct {
	conn     Conn
	api      API
	agentID  string
	pageSize int

	mu      sync.Mutex
	chatID  string
	ts      []transcript.Message
	state   ws.State
	pending string

	// createMu single-flights chat creation so racing submits share one
	// chat instead of each leaving an orphan on the server.
	createMu sync.Mutex

	updates chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

func NewController(cfg Config) *Controller {
	pageSize := cfg.HistoryPageSize
	if pageSize <= 0 {
		pageSize = defaultHistoryPageSize
	}
	return &Controller{
		conn:     cfg.Conn,
		api:      cfg.API,
		agentID:  cfg.AgentInstanceID,
		pageSize: pageSize,
		state:    cfg.Conn.State(),
		updates:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Run is the single pump: every fold happens here, in frame receipt order.
// It blocks until ctx is cancelled or the controller is closed; callers run
// it on its own goroutine.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return

		case data, ok := <-c.conn.Frames():
			if !ok {
				return
			}
			c.fold(data)

		case s, ok := <-c.conn.States():
			if !ok {
				return
			}
			c.mu.Lock()
			c.state = s
			c.mu.Unlock()
			c.notify()
		}
	}
}

func (c *Controller) fold(data []byte) {
	events := protocol.Decode(data)
	c.mu.Lock()
	for _, ev := range events {
		c.ts = transcript.Fold(c.ts, ev)
	}
	c.mu.Unlock()
	c.notify()
}

// Submit appends the user message and the assistant placeholder, then sends
// the turn. The two entries land before any network round trip, so they are
// visible even when the send fails. With no chat selected, the text is held
// while a chat is created and flushed once creation resolves; a creation
// failure is returned to the caller with the entries left in place, unsent.
//
// Sends are not correlated with a connection instance: a turn submitted just
// before a drop can be lost without a client-visible error (at-most-once).
func (c *Controller) Submit(ctx context.Context, text string) error {
	c.mu.Lock()
	c.ts = transcript.Submit(c.ts, text)
	if c.chatID == "" {
		c.pending = text
	}
	needsChat := c.chatID == ""
	c.mu.Unlock()
	c.notify()

	if needsChat {
		if c.api == nil {
			return ErrNoChat
		}
		return c.createAndFlush(ctx)
	}
	return c.sendTurn()
}

// createAndFlush creates the destination chat and sends the held text.
// Creation is single-flight: a submit racing an in-flight create waits here,
// then adopts the chat the winner made rather than creating a second one.
// Exactly one frame goes out per held submit.
func (c *Controller) createAndFlush(ctx context.Context) error {
	c.createMu.Lock()
	defer c.createMu.Unlock()

	if c.ChatID() == "" {
		chat, err := c.api.CreateChat(ctx, api.CreateChatRequest{})
		if err != nil {
			c.mu.Lock()
			c.pending = ""
			c.mu.Unlock()
			return fmt.Errorf("create chat: %w", err)
		}
		c.mu.Lock()
		if c.chatID == "" {
			c.chatID = chat.ID
		}
		c.mu.Unlock()
		c.notify()
		logger.Infof("session: created chat %s", chat.ID)
	}

	c.mu.Lock()
	flush := c.pending != ""
	c.pending = ""
	c.mu.Unlock()

	if !flush {
		return nil
	}
	return c.sendTurn()
}

func (c *Controller) sendTurn() error {
	c.mu.Lock()
	frame := protocol.Outbound{
		Messages:        wireContext(c.ts),
		Stream:          true,
		ChatID:          c.chatID,
		AgentInstanceID: c.agentID,
	}
	c.mu.Unlock()

	if err := c.conn.Send(frame); err != nil {
		return fmt.Errorf("send turn: %w", err)
	}
	return nil
}

// SwitchChat loads the chat's history and replaces the transcript wholesale.
// The connection is left alone; an in-flight placeholder is discarded with
// the old transcript and no server-side cancel is issued.
func (c *Controller) SwitchChat(ctx context.Context, chatID string) error {
	if c.api == nil {
		return ErrNoChat
	}
	records, err := c.api.History(ctx, chatID, 1, c.pageSize)
	if err != nil {
		return fmt.Errorf("switch chat: %w", err)
	}

	c.mu.Lock()
	c.chatID = chatID
	c.ts = transcript.LoadHistory(records)
	c.pending = ""
	c.mu.Unlock()
	c.notify()
	return nil
}

// NewChat discards the local transcript and detaches from the current chat;
// the next Submit creates a fresh one.
func (c *Controller) NewChat() {
	c.mu.Lock()
	c.chatID = ""
	c.ts = nil
	c.pending = ""
	c.mu.Unlock()
	c.notify()
}

// ToggleToolDetail flips the reveal flag on the transcript entry at i, which
// Assemble carries onto the matching ToolGroup.
func (c *Controller) ToggleToolDetail(i int) {
	c.mu.Lock()
	if i >= 0 && i < len(c.ts) {
		c.ts[i].UIExpanded = !c.ts[i].UIExpanded
	}
	c.mu.Unlock()
	c.notify()
}

// Updates signals that the transcript or connection state changed. Signals
// coalesce; consumers re-read Snapshot and ConnectionState on each one.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// Snapshot returns the transcript assembled for presentation.
func (c *Controller) Snapshot() []transcript.Entry {
	return transcript.Assemble(c.Messages())
}

// Messages returns a copy of the raw transcript.
func (c *Controller) Messages() []transcript.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transcript.Message, len(c.ts))
	copy(out, c.ts)
	return out
}

func (c *Controller) ConnectionState() ws.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// Close stops the pump and tears the connection down.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.conn.Close(); err != nil {
			logger.Warnf("session: close connection: %v", err)
		}
	})
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// wireContext builds the conversational context replayed to the agent:
// user/assistant entries only, excluding tool traffic and the empty
// placeholder the current turn just opened.
func wireContext(ts []transcript.Message) []protocol.WireMessage {
	out := make([]protocol.WireMessage, 0, len(ts))
	for _, m := range ts {
		if m.Role == transcript.RoleTool {
			continue
		}
		if m.Role == transcript.RoleAssistant && m.Content == "" {
			continue
		}
		out = append(out, protocol.WireMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
