// Package client is the Go client for a chatbridge broker. It speaks the
// broker's one-request-per-connection wire protocol over TCP: create a
// session, post messages into it, poll for replies and shut it down.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/entrhq/chatbridge/pkg/wire"
)

// DefaultTimeout bounds each request round-trip.
const DefaultTimeout = 30 * time.Second

var (
	// ErrBusy means the broker is at its session capacity.
	ErrBusy = errors.New("client: broker at capacity")

	// ErrUnknownSession means the id is not (or no longer) registered.
	ErrUnknownSession = errors.New("client: unknown session id")

	// ErrBadRequest means the broker rejected the request as malformed.
	ErrBadRequest = errors.New("client: request rejected as malformed")
)

// StatusError reports a broker answer outside the expected set.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: unexpected status %d: %s", e.Code, e.Body)
}

// Client talks to one broker instance. It is safe for concurrent use; every
// call opens its own connection.
type Client struct {
	addr    string
	timeout time.Duration
}

// New builds a client for the broker at host:port.
func New(host string, port int) *Client {
	return &Client{
		addr:    net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		timeout: DefaultTimeout,
	}
}

// NewAddr builds a client for the broker at a pre-joined address.
func NewAddr(addr string) *Client {
	return &Client{addr: addr, timeout: DefaultTimeout}
}

// Create starts a new chat session and returns its id.
func (c *Client) Create() (string, error) {
	status, body, err := c.do(wire.RouteCreate)
	if err != nil {
		return "", err
	}
	if status != int(wire.StatusOK) {
		return "", statusErr(status, body)
	}
	if !wire.ValidID(body) {
		return "", fmt.Errorf("client: broker returned malformed id %q", body)
	}
	return body, nil
}

// Post sends a message into the session.
func (c *Client) Post(id, message string) error {
	target := fmt.Sprintf("%sid=%s&msg=%s", wire.RoutePost, id, url.QueryEscape(message))
	status, body, err := c.do(target)
	if err != nil {
		return err
	}
	if status != int(wire.StatusNoContent) {
		return statusErr(status, body)
	}
	return nil
}

// Get polls for the latest reply. ok is false when no reply has appeared
// yet.
func (c *Client) Get(id string) (reply string, ok bool, err error) {
	status, body, err := c.do(wire.RouteGet + "id=" + id)
	if err != nil {
		return "", false, err
	}
	switch status {
	case int(wire.StatusOK):
		return body, true, nil
	case int(wire.StatusNoContent):
		return "", false, nil
	default:
		return "", false, statusErr(status, body)
	}
}

// Shutdown ends the session and frees its browser window.
func (c *Client) Shutdown(id string) error {
	status, body, err := c.do(wire.RouteShutdown + "id=" + id)
	if err != nil {
		return err
	}
	if status != int(wire.StatusNoContent) {
		return statusErr(status, body)
	}
	return nil
}

// do performs one request/response exchange on a fresh connection.
func (c *Client) do(target string) (int, string, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return 0, "", fmt.Errorf("client: dialing %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, "", fmt.Errorf("client: setting deadline: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "GET %s HTTP/1.0\r\n", target); err != nil {
		return 0, "", fmt.Errorf("client: sending request: %w", err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return 0, "", fmt.Errorf("client: reading response: %w", err)
	}

	head, body, found := strings.Cut(string(raw), "\r\n\r\n")
	if !found {
		return 0, "", fmt.Errorf("client: malformed response %q", raw)
	}
	var code int
	if _, err := fmt.Sscanf(head, "HTTP/1.0 %d", &code); err != nil {
		return 0, "", fmt.Errorf("client: malformed status line %q", head)
	}
	return code, body, nil
}

// statusErr maps broker error statuses onto the client's sentinel errors.
func statusErr(status int, body string) error {
	switch status {
	case int(wire.StatusServiceUnavailable):
		return ErrBusy
	case int(wire.StatusUnprocessableEntity):
		return ErrUnknownSession
	case int(wire.StatusBadRequest):
		return ErrBadRequest
	}
	return &StatusError{Code: status, Body: body}
}
