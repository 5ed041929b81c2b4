// Package ws is the socket.io transport for the duel engine. Handlers call
// the engine and reply directly; broadcasts ride the event broker, so every
// push to a room is a "state changed, re-fetch" hint rather than state.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/styleduel/styleduel/internal/events"
	"github.com/styleduel/styleduel/internal/game"
	"github.com/styleduel/styleduel/internal/storage"
)

// ConnCtx is the per-connection state: which user this is and which session
// room the connection sits in.
type ConnCtx struct {
	UserID    string
	SessionID string
}

type Server struct {
	engine *game.Engine

	mu    sync.Mutex
	pumps map[string]struct{} // sessions with a live broker->room pump
}

func New(engine *game.Engine) *Server {
	return &Server{engine: engine, pumps: make(map[string]struct{})}
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// duel:join - matchmake, or join by invite code
	io.OnEvent("/", "duel:join", func(s socketio.Conn, payload struct {
		UserID     string `json:"userId"`
		InviteCode string `json:"inviteCode"`
	}) map[string]any {
		res, err := srv.engine.Join(context.Background(), payload.UserID, payload.InviteCode)
		if err != nil {
			return srv.err(s, err)
		}
		s.SetContext(&ConnCtx{UserID: payload.UserID, SessionID: res.SessionID})
		s.Join(res.SessionID)
		srv.ensurePump(io, res.SessionID)
		log.Info().Str("sid", s.ID()).Str("session", res.SessionID).Str("role", string(res.Role)).Msg("duel:join")
		return map[string]any{
			"sessionId": res.SessionID,
			"role":      res.Role,
			"alias":     res.Alias,
			"status":    res.Status,
		}
	})

	// duel:create - private session with invite code
	io.OnEvent("/", "duel:create", func(s socketio.Conn, payload struct {
		UserID string `json:"userId"`
	}) map[string]any {
		res, err := srv.engine.CreatePrivate(context.Background(), payload.UserID)
		if err != nil {
			return srv.err(s, err)
		}
		s.SetContext(&ConnCtx{UserID: payload.UserID, SessionID: res.SessionID})
		s.Join(res.SessionID)
		srv.ensurePump(io, res.SessionID)
		log.Info().Str("sid", s.ID()).Str("session", res.SessionID).Msg("duel:create")
		return map[string]any{
			"sessionId":  res.SessionID,
			"inviteCode": res.InviteCode,
			"role":       res.Role,
			"alias":      res.Alias,
			"status":     res.Status,
		}
	})

	// duel:resume - reconnection: rejoin the room, get a fresh snapshot
	io.OnEvent("/", "duel:resume", func(s socketio.Conn, payload struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
	}) map[string]any {
		st, err := srv.engine.GetState(context.Background(), payload.SessionID, payload.UserID)
		if err != nil {
			return srv.err(s, err)
		}
		s.SetContext(&ConnCtx{UserID: payload.UserID, SessionID: payload.SessionID})
		s.Join(payload.SessionID)
		srv.ensurePump(io, payload.SessionID)
		log.Info().Str("sid", s.ID()).Str("session", payload.SessionID).Msg("duel:resume")
		return map[string]any{"state": st}
	})

	// duel:leave
	io.OnEvent("/", "duel:leave", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if err := srv.engine.Leave(context.Background(), ctx.UserID); err != nil {
			return srv.err(s, err)
		}
		if ctx.SessionID != "" {
			s.Leave(ctx.SessionID)
		}
		log.Info().Str("sid", s.ID()).Str("session", ctx.SessionID).Msg("duel:leave")
		s.SetContext(&ConnCtx{UserID: ctx.UserID})
		return map[string]any{"ok": true}
	})

	// duel:submitDesign
	io.OnEvent("/", "duel:submitDesign", func(s socketio.Conn, payload struct {
		RoundID    string `json:"roundId"`
		TargetRole string `json:"targetRole"`
		Payload    string `json:"payload"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		err := srv.engine.SubmitDesign(context.Background(), ctx.SessionID, payload.RoundID,
			ctx.UserID, storage.Role(payload.TargetRole), payload.Payload)
		if err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("session", ctx.SessionID).Str("round", payload.RoundID).Msg("duel:submitDesign")
		return map[string]any{"ok": true}
	})

	// duel:vote - reveal-phase feedback
	io.OnEvent("/", "duel:vote", func(s socketio.Conn, payload struct {
		Vote     string `json:"vote"`
		Reaction string `json:"reaction"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		err := srv.engine.SubmitFeedback(context.Background(), ctx.SessionID, ctx.UserID,
			storage.Vote(payload.Vote), payload.Reaction)
		if err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("session", ctx.SessionID).Str("vote", payload.Vote).Msg("duel:vote")
		return map[string]any{"ok": true}
	})

	// duel:state - authoritative snapshot, scoped to the caller
	io.OnEvent("/", "duel:state", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		st, err := srv.engine.GetState(context.Background(), ctx.SessionID, ctx.UserID)
		if err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"state": st}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// ensurePump starts one broker subscription per session that forwards every
// event to the session's room. The subscription ends when the broker closes
// the channel (slow consumer or no more events after termination).
func (srv *Server) ensurePump(io *socketio.Server, sessionID string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, ok := srv.pumps[sessionID]; ok {
		return
	}
	srv.pumps[sessionID] = struct{}{}

	ch := srv.engine.Broker().Subscribe(sessionID, "ws-room")
	go func() {
		for ev := range ch {
			io.BroadcastToRoom("/", sessionID, "duel:update", ev)
			if terminalEvent(ev) {
				srv.engine.Broker().Unsubscribe(sessionID, "ws-room")
			}
		}
		srv.mu.Lock()
		delete(srv.pumps, sessionID)
		srv.mu.Unlock()
	}()
}

func terminalEvent(ev events.Event) bool {
	return ev.Type == events.TypeSessionFinished || ev.Type == events.TypeSessionAbandoned
}

// err emits a structured error to the connection and returns the ack body.
func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	code := errCode(err)
	s.Emit("error", map[string]any{"code": code, "message": err.Error()})
	return map[string]any{"error": code, "message": err.Error()}
}

func errCode(err error) string {
	switch {
	case errors.Is(err, storage.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, storage.ErrSessionFull):
		return "already_full"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, storage.ErrNotInSession):
		return "not_in_session"
	case errors.Is(err, storage.ErrRoundClosed):
		return "round_closed"
	case errors.Is(err, storage.ErrDuplicateSubmission):
		return "duplicate_submission"
	case errors.Is(err, storage.ErrDuplicateVote):
		return "duplicate_vote"
	case errors.Is(err, storage.ErrSessionNotInReveal):
		return "session_not_in_reveal"
	case errors.Is(err, game.ErrCodeExhausted):
		return "code_generation_exhausted"
	case errors.Is(err, game.ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, game.ErrInvalidVote):
		return "invalid_vote"
	case errors.Is(err, game.ErrEmptyFeedback):
		return "empty_feedback"
	default:
		return "internal"
	}
}
