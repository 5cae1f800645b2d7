// Package client talks to a collabdraw server over its HTTP API and
// websocket feed. A Client can back a session.Session in place of an
// in-process BoardService.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/feed"
	"collabdraw-server/internal/logging"
	ws "collabdraw-server/internal/websocket"

	"github.com/gorilla/websocket"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-success answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	dialer   *websocket.Dialer
	log      logging.Logger
}

// New returns a client for the server at baseURL. clientID is sent with
// feed subscriptions; httpClient may be nil.
func New(baseURL, clientID string, httpClient *http.Client, log logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     httpClient,
		dialer:   websocket.DefaultDialer,
		log:      log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrBoardNotFound
	case resp.StatusCode >= 400:
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	case out == nil:
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func boardPath(boardID string, parts ...string) string {
	return "/api/v1/boards/" + url.PathEscape(boardID) + strings.Join(parts, "")
}

func (c *Client) CreateBoard(ctx context.Context) (string, error) {
	var resp domain.CreateBoardResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/boards", nil, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) LoadBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	var board domain.Board
	if err := c.do(ctx, http.MethodGet, boardPath(boardID), nil, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

func (c *Client) SaveBoard(ctx context.Context, boardID, canvasState string) (time.Time, error) {
	var resp domain.SaveBoardResponse
	req := domain.SaveBoardRequest{CanvasState: canvasState}
	if err := c.do(ctx, http.MethodPut, boardPath(boardID), req, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.UpdatedAt, nil
}

func (c *Client) AppendAction(ctx context.Context, boardID string, action domain.Action) (time.Time, error) {
	var resp domain.AppendActionResponse
	if err := c.do(ctx, http.MethodPost, boardPath(boardID, "/actions"), action.Record(), &resp); err != nil {
		return time.Time{}, err
	}
	return resp.Timestamp, nil
}

func (c *Client) ListActions(ctx context.Context, boardID string, after time.Time) ([]domain.Action, error) {
	q := url.Values{"after": {after.UTC().Format(time.RFC3339Nano)}}
	var actions []domain.Action
	if err := c.do(ctx, http.MethodGet, boardPath(boardID, "/actions?", q.Encode()), nil, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

func (c *Client) Participants(ctx context.Context, boardID string) ([]domain.Participant, error) {
	var list []domain.Participant
	if err := c.do(ctx, http.MethodGet, boardPath(boardID, "/participants"), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) GenerateBackground(ctx context.Context, prompt string) (domain.Background, error) {
	var bg domain.Background
	req := domain.GenerateBackgroundRequest{Prompt: prompt}
	if err := c.do(ctx, http.MethodPost, "/api/v1/backgrounds/generate", req, &bg); err != nil {
		return domain.Background{}, err
	}
	return bg, nil
}

// Export downloads the server-side rendering; format is "png" or "pdf".
func (c *Client) Export(ctx context.Context, boardID, format string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+boardPath(boardID, "/export.", format), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to export board: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var env envelope
		json.NewDecoder(resp.Body).Decode(&env)
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) feedURL(boardID string, after time.Time) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{
		"board":     {boardID},
		"after":     {after.UTC().Format(time.RFC3339Nano)},
		"client_id": {c.clientID},
	}
	return u + "/ws?" + q.Encode()
}

// Subscribe opens the websocket feed of the board after the watermark.
// The subscription ends when closed, when ctx is done, or when the
// connection drops.
func (c *Client) Subscribe(ctx context.Context, boardID string, after time.Time) (feed.Subscription, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.feedURL(boardID, after), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open board feed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []domain.Action)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(ch)
		defer cancel()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warn(ctx, "board feed closed", "board_id", boardID, "error", err)
				}
				return
			}

			// Messages queued together arrive in one frame, one per line.
			for _, line := range bytes.Split(data, []byte{'\n'}) {
				batch, ok := c.decodeBatch(ctx, line)
				if !ok {
					continue
				}
				select {
				case ch <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return feed.NewSubscription(ch, cancel), nil
}

func (c *Client) decodeBatch(ctx context.Context, line []byte) ([]domain.Action, bool) {
	var msg ws.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		c.log.Warn(ctx, "failed to decode feed message", "error", err)
		return nil, false
	}

	switch msg.Type {
	case ws.TypeActions:
		var payload ws.ActionsPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			c.log.Warn(ctx, "failed to decode actions", "error", err)
			return nil, false
		}
		return payload.Actions, len(payload.Actions) > 0
	case ws.TypeError:
		var payload ws.ErrorPayload
		msg.UnmarshalPayload(&payload)
		c.log.Warn(ctx, "server reported an error", "message", payload.Message)
	}
	return nil, false
}
