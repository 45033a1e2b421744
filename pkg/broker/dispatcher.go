package broker

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/entrhq/chatbridge/pkg/logging"
	"github.com/entrhq/chatbridge/pkg/wire"
)

// Dispatcher timing defaults, overridable through DispatcherOptions.
const (
	// DefaultAcceptTimeout bounds each blocking accept so maintenance
	// (reaping, stop-flag check) runs even with no traffic.
	DefaultAcceptTimeout = 10 * time.Second

	// DefaultLoopInterval is the pause between serve-loop iterations.
	DefaultLoopInterval = 200 * time.Millisecond

	// readTimeout bounds how long a connected client may take to send its
	// request line.
	readTimeout = 5 * time.Second
)

// DispatcherOptions configures the serve loop.
type DispatcherOptions struct {
	// Port to listen on.
	Port int

	// AcceptTimeout bounds each blocking accept. Zero means the default.
	AcceptTimeout time.Duration

	// LoopInterval is the sleep between iterations. Zero means the
	// default.
	LoopInterval time.Duration

	// OnFatal is invoked after teardown when the loop exits because of a
	// fatal error, so the process-level owner can shut everything down.
	// Clean stops requested via RequestStop do not trigger it.
	OnFatal func()
}

// Dispatcher runs the single accept/serve loop. Requests are handled
// strictly one at a time; the registry, window set and driver are owned by
// the loop goroutine and need no locks.
type Dispatcher struct {
	opts     DispatcherOptions
	registry *Registry
	log      *logging.Logger

	listener net.Listener
	active   atomic.Bool
	stopFlag atomic.Bool
	done     chan struct{}
}

// NewDispatcher builds a dispatcher over the given registry.
func NewDispatcher(registry *Registry, opts DispatcherOptions, log *logging.Logger) *Dispatcher {
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	if opts.LoopInterval <= 0 {
		opts.LoopInterval = DefaultLoopInterval
	}
	return &Dispatcher{
		opts:     opts,
		registry: registry,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start binds the listening socket and launches the serve loop. A bind
// failure is fatal: no loop is started and the error is returned to the
// caller.
func (d *Dispatcher) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", d.opts.Port))
	if err != nil {
		return fmt.Errorf("binding port %d: %w", d.opts.Port, err)
	}
	d.listener = listener
	d.active.Store(true)
	go d.run()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (d *Dispatcher) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// IsActive reports whether the serve loop is running.
func (d *Dispatcher) IsActive() bool {
	return d.active.Load()
}

// RequestStop asks the loop to exit. The request is cooperative: it is
// observed at the top of the next iteration, never mid-request.
func (d *Dispatcher) RequestStop() {
	d.stopFlag.Store(true)
}

// Join blocks until the serve loop has fully exited.
func (d *Dispatcher) Join() {
	<-d.done
}

// run is the loop body. It exits on a requested stop or on a fatal error;
// per-request failures never terminate it.
func (d *Dispatcher) run() {
	fatal := false

	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("panic in serve loop, shutting down: %v", r)
			fatal = true
		}
		d.teardown()
		d.active.Store(false)
		close(d.done)
		if fatal && d.opts.OnFatal != nil {
			d.opts.OnFatal()
		}
	}()

	for {
		if d.stopFlag.Load() {
			d.log.Infof("stop requested, leaving serve loop")
			return
		}

		d.registry.ReapIdle(time.Now())

		if tcp, ok := d.listener.(*net.TCPListener); ok {
			if err := tcp.SetDeadline(time.Now().Add(d.opts.AcceptTimeout)); err != nil {
				d.log.Errorf("setting accept deadline, shutting down: %v", err)
				fatal = true
				return
			}
		}

		conn, err := d.listener.Accept()
		switch {
		case err == nil:
			d.serve(conn)
		case isTimeout(err):
			// No client this tick.
		default:
			d.log.Errorf("accept failed, shutting down: %v", err)
			fatal = true
			return
		}

		time.Sleep(d.opts.LoopInterval)
	}
}

// teardown tears every session and the driver down after the loop exits.
func (d *Dispatcher) teardown() {
	d.log.Infof("shutting down dispatcher")
	d.registry.ShutdownAll()
	if err := d.registry.drv.Quit(); err != nil {
		d.log.Errorf("quitting driver: %v", err)
	}
	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			d.log.Errorf("closing listener: %v", err)
		}
	}
}

// serve handles exactly one request on conn, always answering with a
// syntactically valid response before closing.
func (d *Dispatcher) serve(conn net.Conn) {
	defer conn.Close()

	d.log.Infof("connected with %s", conn.RemoteAddr())

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		d.log.Errorf("setting read deadline: %v", err)
		return
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		d.log.Infof("client sent no request line: %v", err)
		d.writeError(conn, wire.StatusBadRequest)
		return
	}

	req, err := wire.ParseRequest(strings.TrimRight(line, "\r\n"))
	if err != nil {
		d.log.Infof("rejecting malformed request line")
		d.writeError(conn, wire.StatusBadRequest)
		return
	}

	d.route(conn, req.Target)
}

// route matches the request target against the known route prefixes and
// serves it. Transient driver failures surfacing here are answered with 500
// and do not terminate the loop.
func (d *Dispatcher) route(conn net.Conn, target string) {
	switch {
	case strings.HasPrefix(target, wire.RouteCreate):
		d.serveCreate(conn)
	case strings.HasPrefix(target, wire.RoutePost):
		d.servePost(conn, target[len(wire.RoutePost):])
	case strings.HasPrefix(target, wire.RouteGet):
		d.serveGet(conn, target[len(wire.RouteGet):])
	case strings.HasPrefix(target, wire.RouteShutdown):
		d.serveShutdown(conn, target[len(wire.RouteShutdown):])
	default:
		d.log.Infof("no route for %q", target)
		d.writeError(conn, wire.StatusNotImplemented)
	}
}

func (d *Dispatcher) serveCreate(conn net.Conn) {
	d.log.Debugf("serving create request")

	session, err := d.registry.Create()
	switch {
	case errors.Is(err, ErrCapacity):
		d.log.Infof("rejected create request, limit reached")
		d.writeError(conn, wire.StatusServiceUnavailable)
	case err != nil:
		d.log.Errorf("creating session: %v", err)
		d.writeError(conn, wire.StatusInternalServerError)
	default:
		d.writeBody(conn, wire.StatusOK, session.ID())
	}
}

func (d *Dispatcher) servePost(conn net.Conn, rawQuery string) {
	d.log.Debugf("serving post request")

	query, err := wire.ParseQuery(rawQuery)
	if err != nil {
		d.writeError(conn, wire.StatusBadRequest)
		return
	}
	id := query["id"]
	message := query["msg"]
	if !wire.ValidID(id) || message == "" {
		d.writeError(conn, wire.StatusBadRequest)
		return
	}

	session, err := d.registry.Get(id)
	if err != nil {
		d.writeError(conn, wire.StatusUnprocessableEntity)
		return
	}

	if err := session.Post(message); err != nil {
		d.log.Errorf("post for %s: %v", id, err)
		d.writeError(conn, wire.StatusInternalServerError)
		return
	}

	d.log.Infof("post for %s: %s", id, message)
	d.writeEmpty(conn, wire.StatusNoContent)
}

func (d *Dispatcher) serveGet(conn net.Conn, rawQuery string) {
	d.log.Debugf("serving get request")

	query, err := wire.ParseQuery(rawQuery)
	if err != nil {
		d.writeError(conn, wire.StatusBadRequest)
		return
	}
	id := query["id"]
	if !wire.ValidID(id) {
		d.writeError(conn, wire.StatusBadRequest)
		return
	}

	session, err := d.registry.Get(id)
	if err != nil {
		d.writeError(conn, wire.StatusUnprocessableEntity)
		return
	}

	reply, ok, err := session.LatestReply()
	if err != nil {
		d.log.Errorf("get for %s: %v", id, err)
		d.writeError(conn, wire.StatusInternalServerError)
		return
	}
	if !ok {
		d.log.Infof("get for %s has returned no answer", id)
		d.writeEmpty(conn, wire.StatusNoContent)
		return
	}

	d.log.Infof("get for %s: %s", id, reply)
	d.writeBody(conn, wire.StatusOK, reply)
}

func (d *Dispatcher) serveShutdown(conn net.Conn, rawQuery string) {
	d.log.Debugf("serving shutdown request")

	query, err := wire.ParseQuery(rawQuery)
	if err != nil {
		d.writeError(conn, wire.StatusBadRequest)
		return
	}
	id := query["id"]
	if !wire.ValidID(id) {
		d.writeError(conn, wire.StatusBadRequest)
		return
	}

	if err := d.registry.Shutdown(id); err != nil {
		d.writeError(conn, wire.StatusUnprocessableEntity)
		return
	}

	d.log.Infof("shut down session %s", id)
	d.writeEmpty(conn, wire.StatusNoContent)
}

func (d *Dispatcher) writeBody(conn net.Conn, status wire.Status, body string) {
	if err := wire.WriteResponse(conn, status, wire.ContentText, body); err != nil {
		d.log.Errorf("writing response: %v", err)
	}
}

func (d *Dispatcher) writeEmpty(conn net.Conn, status wire.Status) {
	if err := wire.WriteResponse(conn, status, wire.ContentText, ""); err != nil {
		d.log.Errorf("writing response: %v", err)
	}
}

func (d *Dispatcher) writeError(conn net.Conn, status wire.Status) {
	if err := wire.WriteError(conn, status); err != nil {
		d.log.Errorf("writing error response: %v", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
