package broker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/chatbridge/pkg/driver"
	"github.com/entrhq/chatbridge/pkg/driver/drivertest"
	"github.com/entrhq/chatbridge/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFlow is a scripted SiteFlow for registry and dispatcher tests. The
// mutex keeps test-side scripting safe while the dispatcher loop calls in
// from its own goroutine.
type stubFlow struct {
	mu         sync.Mutex
	counter    int
	enterErr   error
	emptyID    bool
	sent       []string
	sendErr    error
	reply      string
	replyOK    bool
	replyErr   error
	leaveCalls int
}

func (s *stubFlow) EnterChat(driver.Driver) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enterErr != nil {
		return "", s.enterErr
	}
	if s.emptyID {
		return "", nil
	}
	s.counter++
	return fmt.Sprintf("chat%d", s.counter), nil
}

func (s *stubFlow) SendMessage(_ driver.Driver, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, message)
	return nil
}

func (s *stubFlow) LatestReply(driver.Driver) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply, s.replyOK, s.replyErr
}

func (s *stubFlow) LeaveChat(driver.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveCalls++
	return nil
}

func (s *stubFlow) setReply(reply string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply, s.replyOK, s.replyErr = reply, ok, err
}

func (s *stubFlow) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *stubFlow) leaves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveCalls
}

func newTestRegistry(t *testing.T, flow SiteFlow, maxSessions int) (*Registry, *drivertest.Fake) {
	t.Helper()
	fake := drivertest.New()
	alloc := NewWindowAllocator(fake, "control")
	reg := NewRegistry(fake, flow, alloc, maxSessions, 5*time.Minute, logging.Discard())
	return reg, fake
}

func TestRegistry_Create(t *testing.T) {
	t.Run("registers an initialized session", func(t *testing.T) {
		reg, _ := newTestRegistry(t, &stubFlow{}, 3)

		session, err := reg.Create()
		require.NoError(t, err)
		assert.Equal(t, "chat1", session.ID())
		assert.Equal(t, "w1", session.WindowHandle())
		assert.Equal(t, 1, reg.Len())

		got, err := reg.Get("chat1")
		require.NoError(t, err)
		assert.Same(t, session, got)
	})

	t.Run("capacity ceiling answers ErrCapacity and allocates nothing", func(t *testing.T) {
		reg, fake := newTestRegistry(t, &stubFlow{}, 2)

		_, err := reg.Create()
		require.NoError(t, err)
		_, err = reg.Create()
		require.NoError(t, err)

		opens := len(fake.Calls)
		_, err = reg.Create()
		assert.ErrorIs(t, err, ErrCapacity)
		assert.Equal(t, opens, len(fake.Calls), "no driver call may happen past the ceiling")
		assert.Equal(t, 2, reg.Len())
	})

	t.Run("failed id derivation releases the window", func(t *testing.T) {
		reg, fake := newTestRegistry(t, &stubFlow{emptyID: true}, 3)

		_, err := reg.Create()
		assert.ErrorIs(t, err, ErrNoSessionID)
		assert.Equal(t, 0, reg.Len())
		assert.False(t, reg.Allocator().Allocated("w1"))
		assert.Contains(t, fake.Closed, "w1", "discarded window must be closed")
	})

	t.Run("initialization failure releases the window", func(t *testing.T) {
		reg, _ := newTestRegistry(t, &stubFlow{enterErr: assert.AnError}, 3)

		_, err := reg.Create()
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 0, reg.Len())
		assert.False(t, reg.Allocator().Allocated("w1"))
	})
}

func TestRegistry_Lookup(t *testing.T) {
	reg, _ := newTestRegistry(t, &stubFlow{}, 3)

	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)

	err = reg.Shutdown("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRegistry_Shutdown(t *testing.T) {
	flow := &stubFlow{}
	reg, fake := newTestRegistry(t, flow, 3)

	session, err := reg.Create()
	require.NoError(t, err)
	handle := session.WindowHandle()

	require.NoError(t, reg.Shutdown(session.ID()))

	_, err = reg.Get(session.ID())
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.False(t, reg.Allocator().Allocated(handle))
	assert.Equal(t, 1, flow.leaves())
	assert.Contains(t, fake.Closed, handle)

	// The freed capacity and window space are reusable immediately.
	again, err := reg.Create()
	require.NoError(t, err)
	assert.NotEqual(t, session.ID(), again.ID())
}

func TestRegistry_ReapIdle(t *testing.T) {
	flow := &stubFlow{}
	reg, _ := newTestRegistry(t, flow, 5)

	idle, err := reg.Create()
	require.NoError(t, err)
	fresh, err := reg.Create()
	require.NoError(t, err)

	idle.lastUsedAt = time.Now().Add(-6 * time.Minute)

	reaped := reg.ReapIdle(time.Now())
	assert.Equal(t, 1, reaped)

	_, err = reg.Get(idle.ID())
	assert.ErrorIs(t, err, ErrUnknownSession, "reaped session must look never-created")
	assert.False(t, reg.Allocator().Allocated(idle.WindowHandle()))

	_, err = reg.Get(fresh.ID())
	assert.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ShutdownAll(t *testing.T) {
	flow := &stubFlow{}
	reg, _ := newTestRegistry(t, flow, 5)

	_, err := reg.Create()
	require.NoError(t, err)
	_, err = reg.Create()
	require.NoError(t, err)

	reg.ShutdownAll()
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 2, flow.leaves())
}
