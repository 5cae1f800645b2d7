package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/repository"
)

var (
	ErrTooManyConnections = errors.New("too many connections for board")
	ErrSlowClient         = errors.New("client send buffer full")
)

type Options struct {
	MaxConnPerBoard int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	// PresenceRefresh re-announces connected clients so presence entries
	// with a TTL do not expire under long sessions.
	PresenceRefresh time.Duration
}

// Manager groups live connections into one room per board and keeps the
// presence registry in step with them.
type Manager struct {
	clients      map[string]*Client
	boardIndex   map[string]map[string]bool
	clientsMutex sync.RWMutex

	opts           Options
	presence       repository.PresenceRepository
	messageHandler MessageHandler
	log            logging.Logger
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

func NewManager(presence repository.PresenceRepository, opts Options, log logging.Logger) *Manager {
	if opts.PingPeriod <= 0 || opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	return &Manager{
		clients:    make(map[string]*Client),
		boardIndex: make(map[string]map[string]bool),
		opts:       opts,
		presence:   presence,
		log:        log,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run refreshes presence until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.opts.PresenceRefresh <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.opts.PresenceRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshPresence(ctx)
		}
	}
}

// Register adds the client to its board room and announces it to the
// other participants.
func (m *Manager) Register(ctx context.Context, client *Client) error {
	m.clientsMutex.Lock()
	if m.boardIndex[client.BoardID] == nil {
		m.boardIndex[client.BoardID] = make(map[string]bool)
	}
	if m.opts.MaxConnPerBoard > 0 && len(m.boardIndex[client.BoardID]) >= m.opts.MaxConnPerBoard {
		m.clientsMutex.Unlock()
		m.log.Warn(ctx, "max connections reached", "board_id", client.BoardID)
		client.close()
		return ErrTooManyConnections
	}
	m.clients[client.ID] = client
	m.boardIndex[client.BoardID][client.ID] = true
	m.clientsMutex.Unlock()

	m.log.Info(ctx, "client registered", "conn_id", client.ID, "board_id", client.BoardID, "client_id", client.ClientID)

	if err := m.presence.Join(ctx, client.BoardID, domain.Participant{ClientID: client.ClientID, JoinedAt: client.JoinedAt}); err != nil {
		m.log.Warn(ctx, "failed to record presence", "board_id", client.BoardID, "error", err)
	}
	m.broadcastPresence(ctx, client.BoardID)
	return nil
}

// Unregister removes the client and closes its send channel. It is safe to
// call more than once.
func (m *Manager) Unregister(ctx context.Context, client *Client) {
	m.clientsMutex.Lock()
	if _, ok := m.clients[client.ID]; !ok {
		m.clientsMutex.Unlock()
		return
	}
	delete(m.clients, client.ID)
	delete(m.boardIndex[client.BoardID], client.ID)
	if len(m.boardIndex[client.BoardID]) == 0 {
		delete(m.boardIndex, client.BoardID)
	}
	stillPresent := m.hasClientLocked(client.BoardID, client.ClientID)
	client.close()
	m.clientsMutex.Unlock()

	m.log.Info(ctx, "client unregistered", "conn_id", client.ID, "board_id", client.BoardID)

	if !stillPresent {
		if err := m.presence.Leave(ctx, client.BoardID, client.ClientID); err != nil {
			m.log.Warn(ctx, "failed to clear presence", "board_id", client.BoardID, "error", err)
		}
	}
	m.broadcastPresence(ctx, client.BoardID)
}

func (m *Manager) hasClientLocked(boardID, clientID string) bool {
	for id := range m.boardIndex[boardID] {
		if m.clients[id].ClientID == clientID {
			return true
		}
	}
	return false
}

// dispatch runs on the reading goroutine, so one client's messages are
// handled in the order they were sent.
func (m *Manager) dispatch(client *Client, raw []byte) {
	ctx := context.Background()
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.log.Warn(ctx, "failed to unmarshal message", "conn_id", client.ID, "error", err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(client, &msg); err != nil {
			m.log.Warn(ctx, "failed to handle message", "conn_id", client.ID, "type", msg.Type, "error", err)
			if reply, err := NewMessage(TypeError, &ErrorPayload{Message: err.Error()}); err == nil {
				m.SendToClient(client.ID, reply)
			}
		}
	}
}

// BroadcastToBoard sends message to every connection on the board except
// the one with excludeConnID. Connections that cannot keep up are
// disconnected; they resume from their last timestamp on reconnect.
func (m *Manager) BroadcastToBoard(boardID string, message *Message, excludeConnID string) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for connID := range m.boardIndex[boardID] {
		if connID == excludeConnID {
			continue
		}
		client := m.clients[connID]
		select {
		case client.Send <- messageBytes:
		default:
			m.log.Warn(context.Background(), "send buffer full, disconnecting", "conn_id", connID)
			client.Disconnect()
		}
	}
	return nil
}

// SendToClient queues message for one connection. It returns
// ErrSlowClient when the send buffer is full.
func (m *Manager) SendToClient(connID string, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[connID]
	if !exists {
		return nil
	}

	select {
	case client.Send <- messageBytes:
		return nil
	default:
		return ErrSlowClient
	}
}

func (m *Manager) BoardConnections(boardID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.boardIndex[boardID])
}

func (m *Manager) broadcastPresence(ctx context.Context, boardID string) {
	participants, err := m.presence.List(ctx, boardID)
	if err != nil {
		m.log.Warn(ctx, "failed to list participants", "board_id", boardID, "error", err)
		return
	}
	msg, err := NewMessage(TypePresence, &PresencePayload{BoardID: boardID, Participants: participants})
	if err != nil {
		return
	}
	m.BroadcastToBoard(boardID, msg, "")
}

func (m *Manager) refreshPresence(ctx context.Context) {
	type member struct {
		boardID     string
		participant domain.Participant
	}

	m.clientsMutex.RLock()
	members := make(map[string]member, len(m.clients))
	for _, c := range m.clients {
		members[c.BoardID+"/"+c.ClientID] = member{
			boardID:     c.BoardID,
			participant: domain.Participant{ClientID: c.ClientID, JoinedAt: c.JoinedAt},
		}
	}
	m.clientsMutex.RUnlock()

	for _, mb := range members {
		if err := m.presence.Join(ctx, mb.boardID, mb.participant); err != nil {
			m.log.Warn(ctx, "failed to refresh presence", "board_id", mb.boardID, "error", err)
		}
	}
}
