package ws

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"glata-console/pkg/logger"
)

var (
	// ErrClosed is returned by Send after a local Close.
	ErrClosed = errors.New("ws: connection closed")
	// ErrNotConnected is returned by Send while no socket is open, for
	// example mid-reconnect. The frame is not queued.
	ErrNotConnected = errors.New("ws: not connected")
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second

	frameBuffer = 256
	stateBuffer = 32
)

type Config struct {
	// URL is the full websocket endpoint, e.g. wss://host/ws/chat/.
	URL string
	// Token is appended as the token query parameter when non-empty.
	Token string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts caps consecutive failed dials before the manager gives
	// up with StateFailed. Zero retries forever.
	MaxAttempts int
}

// Manager owns one logical chat connection: it dials, reads, and redials
// after any non-local closure with capped exponential backoff. Inbound
// frames arrive on Frames in receipt order; every state transition is
// published on States. Frames missed while disconnected are gone, there is
// no replay.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	closed  bool
	writeMu sync.Mutex

	// pubMu serializes States publishes with Close, so no transition can
	// land in the channel after StateClosed.
	pubMu sync.Mutex

	frames chan []byte
	states chan State
	done   chan struct{}

	connectOnce sync.Once
	closeOnce   sync.Once
}

func NewManager(cfg Config) *Manager {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Manager{
		cfg:    cfg,
		state:  StateConnecting,
		frames: make(chan []byte, frameBuffer),
		states: make(chan State, stateBuffer),
		done:   make(chan struct{}),
	}
}

// Connect starts the dial/read/redial loop. It returns immediately;
// progress is observable on States. Subsequent calls are no-ops.
func (m *Manager) Connect(ctx context.Context) {
	m.connectOnce.Do(func() {
		go m.run(ctx)
	})
}

// Send JSON-encodes one outbound frame. Sends are not correlated with a
// connection instance: a frame written just before a drop can be lost.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Frames delivers raw inbound frames in receipt order.
func (m *Manager) Frames() <-chan []byte {
	return m.frames
}

// States delivers every state transition in order. Callers must drain it.
func (m *Manager) States() <-chan State {
	return m.states
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close tears the connection down for good and suppresses reconnection.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		conn := m.conn
		m.conn = nil
		m.state = StateClosed
		m.mu.Unlock()

		// done is closed before taking pubMu so an in-flight publish
		// blocked on a full buffer drains out and releases the lock.
		close(m.done)

		m.pubMu.Lock()
		select {
		case m.states <- StateClosed:
		default:
		}
		m.pubMu.Unlock()

		if conn != nil {
			conn.Close()
		}
	})
	return nil
}

func (m *Manager) run(ctx context.Context) {
	attempts := 0
	for {
		m.setState(StateConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.dialURL(), nil)
		if err != nil {
			if m.isClosed() {
				return
			}
			if ctx.Err() != nil {
				m.Close()
				return
			}
			attempts++
			logger.Warnf("ws: dial %s failed (attempt %d): %v", m.cfg.URL, attempts, err)
			if m.cfg.MaxAttempts > 0 && attempts >= m.cfg.MaxAttempts {
				logger.Errorf("ws: giving up after %d attempts", attempts)
				m.setState(StateFailed)
				return
			}
			m.setState(StateReconnecting)
			if !m.wait(ctx, m.backoff(attempts)) {
				return
			}
			continue
		}

		attempts = 0
		m.adopt(conn)
		m.setState(StateOpen)
		logger.Infof("ws: connected to %s", m.cfg.URL)

		m.readLoop(ctx, conn)
		m.drop(conn)

		if m.isClosed() {
			return
		}
		if ctx.Err() != nil {
			m.Close()
			return
		}

		logger.Warnf("ws: connection lost, reconnecting")
		m.setState(StateClosing)
		m.setState(StateReconnecting)
		if !m.wait(ctx, m.backoff(attempts)) {
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debugf("ws: read: %v", err)
			return
		}
		select {
		case m.frames <- data:
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// backoff returns min(initial * 2^attempts, max); attempts counts
// consecutive dial failures since the last open connection.
func (m *Manager) backoff(attempts int) time.Duration {
	d := m.cfg.InitialBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= m.cfg.MaxBackoff {
			return m.cfg.MaxBackoff
		}
	}
	if d > m.cfg.MaxBackoff {
		return m.cfg.MaxBackoff
	}
	return d
}

func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.done:
		return false
	case <-ctx.Done():
		m.Close()
		return false
	}
}

func (m *Manager) dialURL() string {
	if m.cfg.Token == "" {
		return m.cfg.URL
	}
	sep := "?"
	if strings.Contains(m.cfg.URL, "?") {
		sep = "&"
	}
	return m.cfg.URL + sep + "token=" + url.QueryEscape(m.cfg.Token)
}

func (m *Manager) adopt(conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

func (m *Manager) drop(conn *websocket.Conn) {
	conn.Close()
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// setState records and publishes a transition. Check and publish happen
// under pubMu as one step: a transition that loses the race with Close sees
// closed and is swallowed, so StateClosed is always the channel's last word.
func (m *Manager) setState(s State) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	select {
	case m.states <- s:
	case <-m.done:
	}
}
