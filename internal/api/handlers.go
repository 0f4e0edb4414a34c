package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type CreateRoomRequest struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private,omitempty"`
	PartyA    string `json:"party_a,omitempty"`
	PartyB    string `json:"party_b,omitempty"`
}

type CreateMessageRequest struct {
	RoomId   string `json:"room_id"`
	AuthorId string `json:"author_id,omitempty"`
	Content  string `json:"content"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check")
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms, err := s.db.ListRooms(r.Context())
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	visible := make([]types.Room, 0, len(rooms))
	for _, room := range rooms {
		if room.VisibleTo(userId) {
			visible = append(visible, room)
		}
	}

	s.writeJson(w, http.StatusOK, visible)
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errResp := NewValidationError("room name is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := types.CreateRoomParams{Name: req.Name, IsPrivate: req.IsPrivate}
	if req.IsPrivate {
		if req.PartyA == "" || req.PartyB == "" || req.PartyA == req.PartyB {
			errResp := NewValidationError("a private room needs two distinct parties")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if userId != req.PartyA && userId != req.PartyB {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		params.PartyA, params.PartyB = req.PartyA, req.PartyB
	}

	room, err := s.db.CreateRoom(r.Context(), params)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, types.ErrDuplicateRoom) {
			errResp = NewConflictError(err)
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.log.Info().Str("room_id", room.Id).Bool("private", room.IsPrivate).Msg("room created")
	s.writeJson(w, http.StatusCreated, room)
}

// visibleRoom loads roomId and checks the caller may see it. Private rooms
// the caller is not a party of are reported as missing.
func (s *GoChatApp) visibleRoom(r *http.Request, roomId string) (types.Room, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return types.Room{}, NewUnauthorizedError()
	}

	room, err := s.db.GetRoom(r.Context(), roomId)
	if err != nil {
		return types.Room{}, storeError(err)
	}

	if !room.VisibleTo(userId) {
		return types.Room{}, NewNotFoundError()
	}

	return room, nil
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, errResp := s.visibleRoom(r, roomId)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.db.ListMessages(r.Context(), room.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if messages == nil {
		messages = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *GoChatApp) getMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.db.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, errResp := s.visibleRoom(r, msg.RoomId); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

// createMessage persists a message and publishes the stored row to the
// room channel. Subscribers receive it without author display fields.
func (s *GoChatApp) createMessage(w http.ResponseWriter, r *http.Request) {
	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.AuthorId != "" && req.AuthorId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.RoomId == "" || req.Content == "" {
		errResp := NewValidationError("room_id and content are required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, errResp := s.visibleRoom(r, req.RoomId)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.CreateMessage(r.Context(), types.CreateMessageParams{
		RoomId:   room.Id,
		AuthorId: userId,
		Content:  req.Content,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.Publish(r.Context(), msg); err != nil {
		// the row is stored; subscribers catch up on their next load
		s.log.Warn().Err(err).Str("message_id", msg.Id).Msg("publish message")
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	account, errResp := s.currentAccount(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients send no origin
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(account.User(), conn, s.cs, s.log)
	if !s.cs.RegisterClient(client) {
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
