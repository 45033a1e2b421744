// Package broker multiplexes logical chat sessions onto a single browser
// automation driver and serves them over the minimal wire protocol. It owns
// the session table, the window-handle bookkeeping, idle-session reaping and
// the sequential accept/serve loop; everything browser-specific is consumed
// through the driver capability interface and a pluggable site flow.
package broker

import (
	"errors"

	"github.com/entrhq/chatbridge/pkg/driver"
)

// Capacity and timing defaults, overridable through config.
const (
	// DefaultMaxSessions caps how many chats may be live at once.
	DefaultMaxSessions = 20

	// DefaultIdleTimeoutSeconds is how long a session may sit unused
	// before the reaper tears it down.
	DefaultIdleTimeoutSeconds = 300
)

var (
	// ErrCapacity is returned by Create when the session ceiling is hit.
	ErrCapacity = errors.New("broker: session capacity exceeded")

	// ErrUnknownSession is returned for operations on ids not currently
	// registered.
	ErrUnknownSession = errors.New("broker: unknown session id")

	// ErrHandleNotFound is returned when a freshly opened window never
	// shows up in the driver's handle set. Creation fails outright; the
	// condition is not retryable without external intervention.
	ErrHandleNotFound = errors.New("broker: new window handle not found")

	// ErrNoSessionID is returned when the site flow cannot derive a
	// session id from the freshly initialized chat page.
	ErrNoSessionID = errors.New("broker: could not derive session id")
)

// SiteFlow is the site-specific part of a session's life: how to enter a
// chat and obtain its id, how to push a message in and how to read the
// latest reply back out. The broker calls it with the session's window
// already focused.
type SiteFlow interface {
	// EnterChat navigates the focused window into a fresh conversation
	// and derives its session id. An empty id means the flow failed.
	EnterChat(d driver.Driver) (id string, err error)

	// SendMessage forwards one message into the focused chat.
	SendMessage(d driver.Driver, message string) error

	// LatestReply extracts the newest reply from the focused chat.
	// ok is false when no reply has appeared yet, which is a normal
	// outcome rather than an error.
	LatestReply(d driver.Driver) (reply string, ok bool, err error)

	// LeaveChat logs the focused chat out before its window is closed.
	LeaveChat(d driver.Driver) error
}
