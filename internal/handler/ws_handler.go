package handler

import (
	"context"
	"net/http"
	"time"

	"collabdraw-server/internal/feed"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/service"
	"collabdraw-server/internal/websocket"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	boards   *service.BoardService
	upgrader ws.Upgrader
	log      logging.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, boards *service.BoardService, readBuffer, writeBuffer int, log logging.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		boards:  boards,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log,
	}
}

// CheckOrigin restricts upgrades to origins accepted by allow.
func (h *WebSocketHandler) CheckOrigin(allow func(origin string) bool) {
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		return allow(r.Header.Get("Origin"))
	}
}

// HandleConnection upgrades /ws?board=&after=&client_id= and streams the
// board feed after the given watermark to the connection.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	boardID := q.Get("board")
	if err := h.boards.ValidateBoardID(boardID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	after, err := parseAfter(q.Get("after"))
	if err != nil {
		http.Error(w, "invalid after timestamp", http.StatusBadRequest)
		return
	}

	clientID := q.Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "failed to upgrade connection", "error", err)
		return
	}

	ctx := context.Background()
	sub, err := h.boards.Subscribe(ctx, boardID, after)
	if err != nil {
		h.log.Error(ctx, "failed to subscribe to board", "board_id", boardID, "error", err)
		closeWith(conn, ws.CloseInternalServerErr, "feed unavailable")
		return
	}

	client := websocket.NewClient(uuid.NewString(), boardID, clientID, conn, h.manager)
	if err := h.manager.Register(ctx, client); err != nil {
		sub.Close()
		closeWith(conn, ws.CloseTryAgainLater, err.Error())
		return
	}

	go client.WritePump()
	go client.ReadPump()
	go h.forward(client, sub)
}

// forward relays feed batches to the client until either side ends. When
// the feed ends first the connection is dropped so the client resumes.
func (h *WebSocketHandler) forward(client *websocket.Client, sub feed.Subscription) {
	defer sub.Close()
	ctx := context.Background()

	for {
		select {
		case <-client.Done():
			return
		case batch, ok := <-sub.Batches():
			if !ok {
				h.log.Warn(ctx, "board feed ended", "board_id", client.BoardID, "conn_id", client.ID)
				client.Disconnect()
				return
			}
			msg, err := websocket.NewMessage(websocket.TypeActions, &websocket.ActionsPayload{
				BoardID: client.BoardID,
				Actions: batch,
			})
			if err != nil {
				h.log.Error(ctx, "failed to encode actions", "error", err)
				continue
			}
			if err := h.manager.SendToClient(client.ID, msg); err != nil {
				h.log.Warn(ctx, "dropping slow client", "conn_id", client.ID, "error", err)
				client.Disconnect()
				return
			}
		}
	}
}

func closeWith(conn *ws.Conn, code int, reason string) {
	conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	conn.Close()
}

type WebSocketMessageHandler struct {
	boards   *service.BoardService
	validate *validator.Validate
	log      logging.Logger
}

func NewWebSocketMessageHandler(boards *service.BoardService, log logging.Logger) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		boards:   boards,
		validate: validator.New(),
		log:      log,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeAppend:
		return h.handleAppend(client, msg)

	case websocket.TypePing:
		return h.handlePing(client)

	default:
		h.log.Debug(context.Background(), "unknown message type", "type", msg.Type)
	}

	return nil
}

// handleAppend stores the action on the connection's board. There is no
// explicit acknowledgement: the action comes back through the feed.
func (h *WebSocketMessageHandler) handleAppend(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.AppendPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	rec := payload.Action
	if rec.ClientID == "" {
		rec.ClientID = client.ClientID
	}
	if err := h.validate.Struct(rec); err != nil {
		return err
	}

	action, err := rec.Action()
	if err != nil {
		return err
	}

	_, err = h.boards.AppendAction(context.Background(), client.BoardID, action)
	return err
}

func (h *WebSocketMessageHandler) handlePing(client *websocket.Client) error {
	pongMsg, err := websocket.NewMessage(websocket.TypePong, nil)
	if err != nil {
		return err
	}

	return client.Manager.SendToClient(client.ID, pongMsg)
}
