package broker

import (
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/chatbridge/pkg/driver/drivertest"
	"github.com/entrhq/chatbridge/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDispatcher boots a dispatcher with fast timings on an ephemeral port
// and tears it down with the test.
func startDispatcher(t *testing.T, flow SiteFlow, opts DispatcherOptions) (*Dispatcher, *Registry, *drivertest.Fake) {
	t.Helper()

	fake := drivertest.New()
	alloc := NewWindowAllocator(fake, "control")
	reg := NewRegistry(fake, flow, alloc, 3, time.Minute, logging.Discard())

	if opts.AcceptTimeout == 0 {
		opts.AcceptTimeout = 50 * time.Millisecond
	}
	if opts.LoopInterval == 0 {
		opts.LoopInterval = time.Millisecond
	}
	d := NewDispatcher(reg, opts, logging.Discard())
	require.NoError(t, d.Start())

	t.Cleanup(func() {
		d.RequestStop()
		d.Join()
	})
	return d, reg, fake
}

// request sends one raw request line and returns the status code and body.
func request(t *testing.T, addr net.Addr, line string) (int, string) {
	t.Helper()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "%s\r\n", line)
	require.NoError(t, err)

	raw, err := io.ReadAll(conn)
	require.NoError(t, err)

	head, body, found := strings.Cut(string(raw), "\r\n\r\n")
	require.True(t, found, "response must contain a blank line: %q", raw)

	var code int
	_, err = fmt.Sscanf(head, "HTTP/1.0 %d", &code)
	require.NoError(t, err, "bad status line in %q", head)
	return code, body
}

func TestDispatcher_FullSessionScript(t *testing.T) {
	flow := &stubFlow{}
	d, _, _ := startDispatcher(t, flow, DispatcherOptions{})

	// create
	code, id := request(t, d.Addr(), "GET /create HTTP/1.0")
	require.Equal(t, 200, code)
	require.Equal(t, "chat1", id)

	// post
	code, _ = request(t, d.Addr(), "GET /post?id="+id+"&msg=hello%20world HTTP/1.0")
	assert.Equal(t, 204, code)
	assert.Equal(t, []string{"hello world"}, flow.sentMessages())

	// get before any reply
	code, body := request(t, d.Addr(), "GET /get?id="+id+" HTTP/1.0")
	assert.Equal(t, 204, code)
	assert.Empty(t, body)

	// reply appears
	flow.setReply("hi yourself", true, nil)
	code, body = request(t, d.Addr(), "GET /get?id="+id+" HTTP/1.0")
	assert.Equal(t, 200, code)
	assert.Equal(t, "hi yourself", body)

	// shutdown
	code, _ = request(t, d.Addr(), "GET /shutdown?id="+id+" HTTP/1.0")
	assert.Equal(t, 204, code)

	// gone afterwards
	code, _ = request(t, d.Addr(), "GET /get?id="+id+" HTTP/1.0")
	assert.Equal(t, 422, code)
}

func TestDispatcher_CapacityCeiling(t *testing.T) {
	d, _, fake := startDispatcher(t, &stubFlow{}, DispatcherOptions{})

	for i := 0; i < 3; i++ {
		code, _ := request(t, d.Addr(), "GET /create HTTP/1.0")
		require.Equal(t, 200, code)
	}

	windows := len(fake.Windows)
	code, _ := request(t, d.Addr(), "GET /create HTTP/1.0")
	assert.Equal(t, 503, code)
	assert.Equal(t, windows, len(fake.Windows), "rejected create must not open a window")
}

func TestDispatcher_CreateFailure(t *testing.T) {
	d, _, _ := startDispatcher(t, &stubFlow{emptyID: true}, DispatcherOptions{})

	code, _ := request(t, d.Addr(), "GET /create HTTP/1.0")
	assert.Equal(t, 500, code)
}

func TestDispatcher_ClientErrors(t *testing.T) {
	flow := &stubFlow{}
	d, reg, _ := startDispatcher(t, flow, DispatcherOptions{})

	code, id := request(t, d.Addr(), "GET /create HTTP/1.0")
	require.Equal(t, 200, code)

	tests := []struct {
		name     string
		line     string
		wantCode int
	}{
		{"empty request line", "", 400},
		{"non-GET method", "POST /create HTTP/1.0", 400},
		{"unknown route", "GET /status HTTP/1.0", 501},
		{"get without query", "GET /get HTTP/1.0", 501},
		{"missing id", "GET /get?x=1 HTTP/1.0", 400},
		{"non-alphanumeric id", "GET /get?id=ab-cd HTTP/1.0", 400},
		{"post missing msg", "GET /post?id=" + id + " HTTP/1.0", 400},
		{"post bad id", "GET /post?id=!!&msg=hi HTTP/1.0", 400},
		{"bad percent escape", "GET /post?id=" + id + "&msg=%zz HTTP/1.0", 400},
		{"unknown id get", "GET /get?id=doesnotexist HTTP/1.0", 422},
		{"unknown id post", "GET /post?id=doesnotexist&msg=hi HTTP/1.0", 422},
		{"unknown id shutdown", "GET /shutdown?id=doesnotexist HTTP/1.0", 422},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := request(t, d.Addr(), tt.line)
			assert.Equal(t, tt.wantCode, code)
		})
	}

	// None of the malformed requests touched session state.
	assert.Empty(t, flow.sentMessages())
	assert.Equal(t, 1, reg.Len())
}

func TestDispatcher_DriverErrorKeepsLoopAlive(t *testing.T) {
	flow := &stubFlow{}
	d, _, _ := startDispatcher(t, flow, DispatcherOptions{})

	code, id := request(t, d.Addr(), "GET /create HTTP/1.0")
	require.Equal(t, 200, code)

	flow.setReply("", false, assert.AnError)
	code, _ = request(t, d.Addr(), "GET /get?id="+id+" HTTP/1.0")
	assert.Equal(t, 500, code)

	// The loop survived and keeps serving.
	flow.setReply("ok", true, nil)
	code, body := request(t, d.Addr(), "GET /get?id="+id+" HTTP/1.0")
	assert.Equal(t, 200, code)
	assert.Equal(t, "ok", body)
	assert.True(t, d.IsActive())
}

func TestDispatcher_ReapsIdleSessions(t *testing.T) {
	flow := &stubFlow{}
	fake := drivertest.New()
	alloc := NewWindowAllocator(fake, "control")
	reg := NewRegistry(fake, flow, alloc, 3, 30*time.Millisecond, logging.Discard())

	d := NewDispatcher(reg, DispatcherOptions{
		AcceptTimeout: 20 * time.Millisecond,
		LoopInterval:  time.Millisecond,
	}, logging.Discard())
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		d.RequestStop()
		d.Join()
	})

	code, id := request(t, d.Addr(), "GET /create HTTP/1.0")
	require.Equal(t, 200, code)

	// The reap pass runs at the top of every iteration; once the session
	// has sat idle past the threshold it becomes indistinguishable from a
	// never-created id.
	assert.Eventually(t, func() bool {
		code, _ := request(t, d.Addr(), "GET /get?id="+id+" HTTP/1.0")
		return code == 422
	}, 2*time.Second, 100*time.Millisecond)
}

func TestDispatcher_StopLifecycle(t *testing.T) {
	flow := &stubFlow{}
	d, _, fake := startDispatcher(t, flow, DispatcherOptions{})

	code, _ := request(t, d.Addr(), "GET /create HTTP/1.0")
	require.Equal(t, 200, code)
	require.True(t, d.IsActive())

	d.RequestStop()
	d.Join()

	assert.False(t, d.IsActive())
	assert.True(t, fake.QuitCalled, "driver must be torn down on exit")
	assert.Equal(t, 1, flow.leaves(), "live sessions are shut down on exit")
}

func TestDispatcher_FatalAcceptEscalates(t *testing.T) {
	fatal := make(chan struct{})
	d, _, fake := startDispatcher(t, &stubFlow{}, DispatcherOptions{
		OnFatal: func() { close(fatal) },
	})

	// Yank the listener out from under the loop: the next accept fails
	// with a non-timeout error, which is fatal.
	require.NoError(t, d.listener.Close())

	select {
	case <-fatal:
	case <-time.After(2 * time.Second):
		t.Fatal("fatal accept error did not signal the lifecycle owner")
	}
	d.Join()
	assert.False(t, d.IsActive())
	assert.True(t, fake.QuitCalled)
}
