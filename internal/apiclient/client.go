// Package apiclient talks to the hub's REST API on behalf of the terminal
// client.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/api"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const defaultTimeout = 10 * time.Second

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// StatusError is a response the client has no better mapping for.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	log     zerolog.Logger
	baseURL *url.URL
	http    *http.Client

	tokenLock sync.RWMutex
	token     string
}

func New(baseURL *url.URL, logger zerolog.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		log:     logger.With().Str("component", "apiclient").Logger(),
		baseURL: baseURL,
		http:    httpClient,
	}
}

// Token is the session token of the last successful login.
func (c *Client) Token() string {
	c.tokenLock.RLock()
	defer c.tokenLock.RUnlock()

	return c.token
}

func (c *Client) SetToken(token string) {
	c.tokenLock.Lock()
	c.token = token
	c.tokenLock.Unlock()
}

func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (types.User, error) {
	var user types.User
	err := c.do(ctx, http.MethodPost, "/api/auth/register", nil, req, &user)
	return user, err
}

// Login exchanges credentials for a session token, which is used for every
// following request.
func (c *Client) Login(ctx context.Context, email, password string) (types.User, string, error) {
	var resp api.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, api.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return types.User{}, "", fmt.Errorf("login: %w", err)
	}

	c.SetToken(resp.Token)
	return resp.User, resp.Token, nil
}

func (c *Client) Session(ctx context.Context) (types.User, error) {
	var user types.User
	err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, nil, &user)
	return user, err
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, "/api/auth/logout", nil, nil, nil)
	c.SetToken("")
	return err
}

func (c *Client) ListRooms(ctx context.Context) ([]types.Room, error) {
	var rooms []types.Room
	err := c.do(ctx, http.MethodGet, "/api/rooms", nil, nil, &rooms)
	return rooms, err
}

// CreateRoom reports types.ErrDuplicateRoom when the private room already exists.
func (c *Client) CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error) {
	var room types.Room
	err := c.do(ctx, http.MethodPost, "/api/rooms", nil, api.CreateRoomRequest{
		Name:      params.Name,
		IsPrivate: params.IsPrivate,
		PartyA:    params.PartyA,
		PartyB:    params.PartyB,
	}, &room)
	if errors.Is(err, ErrConflict) {
		return types.Room{}, types.ErrDuplicateRoom
	}
	return room, err
}

func (c *Client) ListMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	var messages []types.Message
	err := c.do(ctx, http.MethodGet, "/api/messages", url.Values{"room_id": {roomId}}, nil, &messages)
	return messages, err
}

func (c *Client) CreateMessage(ctx context.Context, params types.CreateMessageParams) (types.Message, error) {
	var msg types.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", nil, api.CreateMessageRequest{
		RoomId:   params.RoomId,
		AuthorId: params.AuthorId,
		Content:  params.Content,
	}, &msg)
	return msg, err
}

func (c *Client) GetMessage(ctx context.Context, id string) (types.Message, error) {
	var msg types.Message
	err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(id), nil, nil, &msg)
	return msg, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api call")

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	return nil
}

func responseError(resp *http.Response) error {
	var apiErr api.ApiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, apiErr.Message)
	default:
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}
}
