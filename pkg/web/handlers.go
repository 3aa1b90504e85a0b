package web

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-parley/pkg/conversation"
	"github.com/teslashibe/go-parley/pkg/hub"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/tools"
	"github.com/teslashibe/go-parley/pkg/transport"
)

// SessionView is the JSON shape of a session snapshot.
type SessionView struct {
	conversation.State
	Transport   transport.Kind `json:"transport"`
	RemainingMs int64          `json:"remaining_ms"`
}

func newSessionView(st conversation.State, kind transport.Kind) SessionView {
	return SessionView{State: st, Transport: kind, RemainingMs: st.Timer.RemainingMs()}
}

// StartRequest is the body of POST /api/session/start.
type StartRequest struct {
	Character string `json:"character"`
	Topic     string `json:"topic"`
}

// ConfirmRequest is the body of POST /api/confirmations/:id.
type ConfirmRequest struct {
	Accept bool `json:"accept"`
}

// errorBody is returned for every failed request.
type errorBody struct {
	Error string                 `json:"error"`
	Kind  conversation.ErrorKind `json:"kind,omitempty"`
}

func (s *Server) handleSession(c *fiber.Ctx) error {
	return c.JSON(newSessionView(s.cfg.Session.State(), s.cfg.Session.Kind()))
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	var req StartRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if req.Character == "" {
		return fiber.NewError(fiber.StatusBadRequest, "character is required")
	}
	if err := s.cfg.Session.Start(c.UserContext(), req.Character, req.Topic); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(newSessionView(s.cfg.Session.State(), s.cfg.Session.Kind()))
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	rec, err := s.cfg.Session.Stop(c.UserContext())
	if err != nil {
		s.logger.Warn("stop finished with errors", "session_id", rec.SessionID, "error", err)
	}
	return c.JSON(rec)
}

func (s *Server) handleRetry(c *fiber.Ctx) error {
	if err := s.cfg.Session.Retry(c.UserContext()); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(newSessionView(s.cfg.Session.State(), s.cfg.Session.Kind()))
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	st := s.cfg.Session.State()
	return c.JSON(fiber.Map{
		"session_id": st.SessionID,
		"transcript": st.Transcript,
		"pending":    st.Pending,
	})
}

func (s *Server) handleTools(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Session.Tools().Catalog())
}

func (s *Server) handleConfirmations(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Session.Tools().Pending())
}

func (s *Server) handleConfirm(c *fiber.Ctx) error {
	id := c.Params("id")
	var req ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}

	ctl := s.cfg.Session
	defer func() {
		_ = s.status.Publish(hub.KindConfirmation, ctl.Tools().Pending())
	}()

	if !req.Accept {
		if err := ctl.Decline(id); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"id": id, "accepted": false})
	}
	msg, err := ctl.Confirm(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": id, "accepted": true, "message": msg})
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit < 1 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
	}
	recs, err := s.cfg.History.Sessions(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(recs)
}

func (s *Server) handleSessionRecord(c *fiber.Ctx) error {
	rec, err := s.cfg.History.Session(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleRecording(c *fiber.Ctx) error {
	blob, err := s.cfg.Recordings.Recording(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, blob.MimeType)
	return c.Send(blob.Data)
}

func (s *Server) handleDriveStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"authorized": s.cfg.Drive.Authorized()})
}

func (s *Server) handleDriveAuth(c *fiber.Ctx) error {
	state := uuid.NewString()
	s.mu.Lock()
	s.oauth[state] = struct{}{}
	s.mu.Unlock()
	return c.Redirect(s.cfg.Drive.AuthURL(state), fiber.StatusFound)
}

func (s *Server) handleDriveCallback(c *fiber.Ctx) error {
	state, code := c.Query("state"), c.Query("code")
	s.mu.Lock()
	_, ok := s.oauth[state]
	delete(s.oauth, state)
	s.mu.Unlock()
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "unknown oauth state")
	}
	if code == "" {
		reason := c.Query("error", "missing code")
		return fiber.NewError(fiber.StatusBadRequest, "authorization failed: "+url.QueryEscape(reason))
	}
	if err := s.cfg.Drive.HandleCallback(c.UserContext(), code); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"authorized": true})
}

func (s *Server) handleDriveDisconnect(c *fiber.Ctx) error {
	if err := s.cfg.Drive.Disconnect(); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleError maps domain errors onto status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	var fe *fiber.Error
	var se *conversation.SessionError
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, conversation.ErrAlreadyActive),
		errors.Is(err, conversation.ErrInterrupted),
		errors.Is(err, conversation.ErrNothingToRetry):
		code = fiber.StatusConflict
	case errors.Is(err, tools.ErrNoPendingCall), errors.Is(err, store.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.As(err, &se):
		body.Kind = se.Kind
		body.Error = se.Message()
		switch se.Kind {
		case conversation.KindQuotaExceeded:
			code = fiber.StatusTooManyRequests
		case conversation.KindNetwork, conversation.KindAIUnavailable:
			code = fiber.StatusBadGateway
		case conversation.KindMicrophone:
			code = fiber.StatusServiceUnavailable
		}
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(body)
}
