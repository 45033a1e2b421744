package broker

import (
	"fmt"
	"time"

	"github.com/entrhq/chatbridge/pkg/driver"
	"github.com/entrhq/chatbridge/pkg/logging"
)

// Session is one logical chat bound to exactly one browser window. It is
// created unregistered; Initialize must succeed and yield an id before the
// registry will make it visible.
type Session struct {
	id           string
	windowHandle string
	lastUsedAt   time.Time
	lastReply    string

	drv  driver.Driver
	flow SiteFlow
	log  *logging.Logger
}

// newSession builds an uninitialized session owning the given window.
func newSession(drv driver.Driver, flow SiteFlow, windowHandle string, log *logging.Logger) *Session {
	return &Session{
		windowHandle: windowHandle,
		drv:          drv,
		flow:         flow,
		log:          log,
		lastUsedAt:   time.Now(),
	}
}

// ID returns the session id, or "" before successful initialization.
func (s *Session) ID() string {
	return s.id
}

// WindowHandle returns the window handle exclusively owned by this session.
func (s *Session) WindowHandle() string {
	return s.windowHandle
}

// LastUsedAt returns the time of the last read or write operation.
func (s *Session) LastUsedAt() time.Time {
	return s.lastUsedAt
}

func (s *Session) touch() {
	s.lastUsedAt = time.Now()
}

func (s *Session) focus() error {
	return s.drv.Focus(s.windowHandle)
}

// Initialize enters the chat in this session's window and derives the
// session id from the live page. On failure the caller must discard the
// session and release its window; it never becomes visible in the registry.
func (s *Session) Initialize() error {
	if err := s.focus(); err != nil {
		return fmt.Errorf("focusing session window: %w", err)
	}
	id, err := s.flow.EnterChat(s.drv)
	if err != nil {
		return fmt.Errorf("entering chat: %w", err)
	}
	if id == "" {
		return ErrNoSessionID
	}
	s.id = id
	s.touch()
	return nil
}

// Post forwards a message into the chat. Delivery is fire-and-forget from
// the broker's perspective; a failure is reported but never retried here.
func (s *Session) Post(message string) error {
	s.touch()
	if err := s.focus(); err != nil {
		return fmt.Errorf("focusing session window: %w", err)
	}
	if err := s.flow.SendMessage(s.drv, message); err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	return nil
}

// LatestReply extracts the most recent reply from the chat. ok is false
// when no reply has appeared yet.
func (s *Session) LatestReply() (reply string, ok bool, err error) {
	s.touch()
	if err := s.focus(); err != nil {
		return "", false, fmt.Errorf("focusing session window: %w", err)
	}
	reply, ok, err = s.flow.LatestReply(s.drv)
	if err != nil {
		return "", false, fmt.Errorf("reading reply: %w", err)
	}
	if ok {
		s.lastReply = reply
	}
	return reply, ok, nil
}

// Shutdown logs the chat out and closes its window. Teardown errors are
// logged but never propagate: the handle must become releasable regardless.
func (s *Session) Shutdown() {
	if err := s.focus(); err != nil {
		s.log.Errorf("session %s: focusing window for shutdown: %v", s.id, err)
		return
	}
	if err := s.flow.LeaveChat(s.drv); err != nil {
		s.log.Errorf("session %s: leaving chat: %v", s.id, err)
	}
	if err := s.drv.CloseCurrentWindow(); err != nil {
		s.log.Errorf("session %s: closing window: %v", s.id, err)
	}
}
