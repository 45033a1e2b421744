// Package wire implements the minimal text protocol the broker speaks:
// one request line per connection, answered with a status line, a few fixed
// headers and a body, then the connection is closed. It is deliberately not
// a general HTTP implementation; only the subset the broker routes on is
// understood.
package wire

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
)

// Route prefixes recognized by the broker. Requests are matched by prefix;
// everything after the '?' is the raw query.
const (
	RouteCreate   = "/create"
	RouteGet      = "/get?"
	RoutePost     = "/post?"
	RouteShutdown = "/shutdown?"
)

// ErrMalformedRequest is returned when a request line does not match the
// single-line "GET path HTTP/x.y" shape.
var ErrMalformedRequest = errors.New("wire: malformed request line")

// requestLinePattern matches a GET request line and captures its path (with
// optional query) in group 1. The protocol version digits are optional, as
// some clients send a bare "HTTP/" token.
var requestLinePattern = regexp.MustCompile(`^GET (.+) HTTP/?[\d.]*$`)

// idPattern is the only accepted shape for session ids.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Request is one parsed request line.
type Request struct {
	// Target is the full request target, e.g. "/post?id=abc&msg=hi".
	Target string
}

// ParseRequest parses a single request line. An empty or blank line, a
// non-GET method and a missing protocol token all fail with
// ErrMalformedRequest.
func ParseRequest(line string) (Request, error) {
	if strings.TrimSpace(line) == "" {
		return Request{}, ErrMalformedRequest
	}
	m := requestLinePattern.FindStringSubmatch(line)
	if m == nil {
		return Request{}, ErrMalformedRequest
	}
	return Request{Target: m[1]}, nil
}

// Query holds the decoded key/value arguments of a request. Keys without a
// value decode to the empty string; repeated keys keep the first value, which
// matches how the broker's routes are specified.
type Query map[string]string

// ParseQuery splits a raw query on '&', assigns on the first '=' and
// percent-decodes values as UTF-8. A pair whose value fails to decode is
// rejected; callers treat that as a client error.
func ParseQuery(raw string) (Query, error) {
	q := make(Query)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("wire: decoding argument %q: %w", key, err)
		}
		if _, exists := q[key]; !exists {
			q[key] = decoded
		}
	}
	return q, nil
}

// ValidID reports whether id is a well-formed session id: a non-empty
// alphanumeric token with no separators.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// WriteResponse writes one complete response: status line, content length,
// content type, a connection-close directive and the body. Responses use
// protocol version 1.0 since every connection is closed after one exchange.
//
// A status or content type outside the protocol's enumerated sets is an
// internal error: the response is forced to 500 with an empty body so that
// whatever payload the caller intended is never leaked.
func WriteResponse(w io.Writer, status Status, contentType ContentType, body string) error {
	if !status.Valid() || !contentType.Valid() {
		status = StatusInternalServerError
		contentType = ContentText
		body = ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.0 %d %s\r\n", int(status), status.Reason())
	fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(&sb, "Content-Type: %s; charset=utf-8\r\n", contentType.MIME())
	sb.WriteString("Connection: close\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)

	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteError writes an error response whose body is the status's reason
// phrase, mirroring how the broker reports protocol and business failures.
func WriteError(w io.Writer, status Status) error {
	return WriteResponse(w, status, ContentText, status.Reason())
}
