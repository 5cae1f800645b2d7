package handler

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/render"
	"collabdraw-server/internal/repository"
	"collabdraw-server/internal/service"
	"collabdraw-server/internal/websocket"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	*httptest.Server
	boards *service.BoardService
}

const testMaxBody = 64 << 10

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logging.Nop()
	store := repository.NewMemoryStore()
	presence := repository.NewMemoryPresence()

	boards := service.NewBoardService(store, store, service.NewFeedClock(nil), log)
	exports := service.NewExportService(store, store, 64, 48, log)
	backgrounds := service.NewBackgroundService("https://placehold.test", 0, log)

	manager := websocket.NewManager(presence, websocket.Options{MaxConnPerBoard: 2}, log)
	manager.SetMessageHandler(NewWebSocketMessageHandler(boards, log))

	r := NewRouter(Handlers{
		Board:      NewBoardHandler(boards, exports, presence, testMaxBody, log),
		Background: NewBackgroundHandler(backgrounds),
		WebSocket:  NewWebSocketHandler(manager, boards, 1024, 1024, log),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, boards: boards}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func snapshotURI(t *testing.T) string {
	t.Helper()
	s := render.NewSurface(64, 48)
	render.Apply(s, domain.Pen{Segment: domain.Segment{From: domain.Point{X: 0, Y: 24}, To: domain.Point{X: 64, Y: 24}, Color: "#000000", Size: 10}})
	uri, err := render.EncodeDataURI(s)
	require.NoError(t, err)
	return uri
}

func penRecord(client string) domain.ActionRecord {
	return domain.ActionRecord{
		Tool:     domain.ToolPen,
		From:     domain.Point{X: 1, Y: 1},
		To:       domain.Point{X: 30, Y: 30},
		Color:    "#ff0000",
		Size:     5,
		ClientID: client,
	}
}

func TestCreateBoard(t *testing.T) {
	srv := newTestServer(t)

	resp, env := srv.do(t, http.MethodPost, "/api/v1/boards", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created domain.CreateBoardResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Len(t, created.ID, 8)
}

func TestGetMissingBoard(t *testing.T) {
	srv := newTestServer(t)

	resp, env := srv.do(t, http.MethodGet, "/api/v1/boards/nothing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Equal(t, "Board not found", env.Error)
}

func TestInvalidBoardID(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.do(t, http.MethodGet, "/api/v1/boards/bad:id", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveAndLoadBoard(t *testing.T) {
	srv := newTestServer(t)
	uri := snapshotURI(t)

	resp, env := srv.do(t, http.MethodPut, "/api/v1/boards/b1", domain.SaveBoardRequest{CanvasState: uri})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved domain.SaveBoardResponse
	require.NoError(t, json.Unmarshal(env.Data, &saved))

	resp, env = srv.do(t, http.MethodGet, "/api/v1/boards/b1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var board domain.Board
	require.NoError(t, json.Unmarshal(env.Data, &board))
	assert.Equal(t, uri, board.CanvasState)
	assert.True(t, board.UpdatedAt.Equal(saved.UpdatedAt))
}

func TestSaveRejectsNonImage(t *testing.T) {
	srv := newTestServer(t)

	resp, env := srv.do(t, http.MethodPut, "/api/v1/boards/b1", domain.SaveBoardRequest{CanvasState: "hello"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, env.Error)
}

func TestSaveRejectsOversizedBody(t *testing.T) {
	srv := newTestServer(t)
	huge := "data:image/png;base64," + strings.Repeat("A", testMaxBody)

	resp, env := srv.do(t, http.MethodPut, "/api/v1/boards/b1", domain.SaveBoardRequest{CanvasState: huge})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "Request body too large", env.Error)

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/boards/b1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "nothing was stored")
}

func TestAppendAndListActions(t *testing.T) {
	srv := newTestServer(t)

	resp, env := srv.do(t, http.MethodPost, "/api/v1/boards/b1/actions", penRecord("alice"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first domain.AppendActionResponse
	require.NoError(t, json.Unmarshal(env.Data, &first))

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/boards/b1/actions", penRecord("bob"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, env = srv.do(t, http.MethodGet, "/api/v1/boards/b1/actions", nil)
	var all []domain.Action
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 2)

	after := first.Timestamp.Format(time.RFC3339Nano)
	_, env = srv.do(t, http.MethodGet, "/api/v1/boards/b1/actions?after="+after, nil)
	var later []domain.Action
	require.NoError(t, json.Unmarshal(env.Data, &later))
	require.Len(t, later, 1)
	assert.Equal(t, "bob", later[0].ClientID)
}

func TestListActionsEmptyAndBadAfter(t *testing.T) {
	srv := newTestServer(t)

	_, env := srv.do(t, http.MethodGet, "/api/v1/boards/empty/actions", nil)
	assert.JSONEq(t, `[]`, string(env.Data))

	resp, _ := srv.do(t, http.MethodGet, "/api/v1/boards/empty/actions?after=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAppendRejectsInvalidActions(t *testing.T) {
	srv := newTestServer(t)

	textOnPen := penRecord("alice")
	textOnPen.Text = "nope"
	missingClient := penRecord("")
	badTool := penRecord("alice")
	badTool.Tool = "spray"

	for name, rec := range map[string]domain.ActionRecord{
		"text on pen":    textOnPen,
		"missing client": missingClient,
		"unknown tool":   badTool,
	} {
		t.Run(name, func(t *testing.T) {
			resp, _ := srv.do(t, http.MethodPost, "/api/v1/boards/b1/actions", rec)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestExportPNG(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/api/v1/boards/b1/actions", penRecord("alice"))

	resp, err := http.Get(srv.URL + "/api/v1/boards/b1/export.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "collab-draw-b1.png")
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestExportPDF(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPut, "/api/v1/boards/b1", domain.SaveBoardRequest{CanvasState: snapshotURI(t)})

	resp, err := http.Get(srv.URL + "/api/v1/boards/b1/export.pdf")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestGenerateBackground(t *testing.T) {
	srv := newTestServer(t)

	resp, env := srv.do(t, http.MethodPost, "/api/v1/backgrounds/generate", domain.GenerateBackgroundRequest{Prompt: "misty mountain lake"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bg domain.Background
	require.NoError(t, json.Unmarshal(env.Data, &bg))
	assert.Equal(t, "misty mountain", bg.Hint)
	assert.Equal(t, "https://placehold.test/1920x1080.png?text=misty+mountain+lake", bg.URL)

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/backgrounds/generate", domain.GenerateBackgroundRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// feedReader splits frames, which may carry several newline separated
// messages, and hands them out one at a time.
type feedReader struct {
	conn    *ws.Conn
	pending []*websocket.Message
}

func dial(t *testing.T, srv *testServer, query string) *feedReader {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &feedReader{conn: conn}
}

// until returns the next message of the wanted type, discarding others.
func (r *feedReader) until(t *testing.T, want websocket.MessageType) *websocket.Message {
	t.Helper()
	r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		for len(r.pending) > 0 {
			msg := r.pending[0]
			r.pending = r.pending[1:]
			if msg.Type == want {
				return msg
			}
		}
		_, data, err := r.conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var msg websocket.Message
			require.NoError(t, json.Unmarshal(line, &msg))
			r.pending = append(r.pending, &msg)
		}
	}
}

func (r *feedReader) send(t *testing.T, msgType websocket.MessageType, payload any) {
	t.Helper()
	msg, err := websocket.NewMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, r.conn.WriteJSON(msg))
}

func TestWebSocketStreamsFeed(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/api/v1/boards/b1/actions", penRecord("alice"))

	conn := dial(t, srv, "board=b1&client_id=bob")

	presence := conn.until(t, websocket.TypePresence)
	var p websocket.PresencePayload
	require.NoError(t, presence.UnmarshalPayload(&p))
	require.Len(t, p.Participants, 1)
	assert.Equal(t, "bob", p.Participants[0].ClientID)

	backlog := conn.until(t, websocket.TypeActions)
	var batch websocket.ActionsPayload
	require.NoError(t, backlog.UnmarshalPayload(&batch))
	require.Len(t, batch.Actions, 1)
	assert.Equal(t, "alice", batch.Actions[0].ClientID)

	srv.do(t, http.MethodPost, "/api/v1/boards/b1/actions", penRecord("carol"))
	live := conn.until(t, websocket.TypeActions)
	require.NoError(t, live.UnmarshalPayload(&batch))
	require.Len(t, batch.Actions, 1)
	assert.Equal(t, "carol", batch.Actions[0].ClientID)
}

func TestWebSocketAppendAndPing(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "board=b1&client_id=dave")

	conn.send(t, websocket.TypePing, nil)
	conn.until(t, websocket.TypePong)

	rec := penRecord("")
	conn.send(t, websocket.TypeAppend, &websocket.AppendPayload{Action: rec})

	echo := conn.until(t, websocket.TypeActions)
	var batch websocket.ActionsPayload
	require.NoError(t, echo.UnmarshalPayload(&batch))
	require.Len(t, batch.Actions, 1)
	assert.Equal(t, "dave", batch.Actions[0].ClientID, "connection identity fills a missing client id")

	bad := rec
	bad.Tool = "spray"
	conn.send(t, websocket.TypeAppend, &websocket.AppendPayload{Action: bad})
	conn.until(t, websocket.TypeError)
}

func TestWebSocketRejectsBadQuery(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?board="
	_, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketConnectionLimit(t *testing.T) {
	srv := newTestServer(t)
	dial(t, srv, "board=full&client_id=a").until(t, websocket.TypePresence)
	dial(t, srv, "board=full&client_id=b").until(t, websocket.TypePresence)

	third := dial(t, srv, "board=full&client_id=c")
	third.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := third.conn.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseTryAgainLater))
}

func TestParticipants(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "board=b1&client_id=erin")
	conn.until(t, websocket.TypePresence)

	_, env := srv.do(t, http.MethodGet, "/api/v1/boards/b1/participants", nil)
	var list []domain.Participant
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "erin", list[0].ClientID)
}
