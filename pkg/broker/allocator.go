package broker

import "github.com/entrhq/chatbridge/pkg/driver"

// WindowAllocator hands out browser windows and tracks which handles are in
// use. The allocated set always contains the control window, which is the
// blank window new windows are spawned from and which never belongs to a
// session.
type WindowAllocator struct {
	drv       driver.Driver
	control   string
	allocated map[string]struct{}
}

// NewWindowAllocator builds an allocator over the given driver with the
// given control-window handle, which is registered as allocated.
func NewWindowAllocator(drv driver.Driver, controlHandle string) *WindowAllocator {
	return &WindowAllocator{
		drv:     drv,
		control: controlHandle,
		allocated: map[string]struct{}{
			controlHandle: {},
		},
	}
}

// ControlHandle returns the handle of the control window.
func (a *WindowAllocator) ControlHandle() string {
	return a.control
}

// Allocate opens a new window from the control window and discovers its
// handle by diffing the driver's handle set against the already-known
// handles. If no new handle appears the create operation must be abandoned:
// ErrHandleNotFound is not retryable without external intervention.
func (a *WindowAllocator) Allocate() (string, error) {
	if err := a.drv.Focus(a.control); err != nil {
		return "", err
	}
	if err := a.drv.OpenWindow(); err != nil {
		return "", err
	}

	handles, err := a.drv.WindowHandles()
	if err != nil {
		return "", err
	}
	for _, handle := range handles {
		if _, known := a.allocated[handle]; !known {
			a.allocated[handle] = struct{}{}
			return handle, nil
		}
	}
	return "", ErrHandleNotFound
}

// Release removes a handle from the allocated set. Releasing an unknown or
// already-released handle is a no-op: explicit shutdown and reaping are
// allowed to race on the registry in concurrent revisions, so a double
// release must never be an error.
func (a *WindowAllocator) Release(handle string) {
	if handle == a.control {
		return
	}
	delete(a.allocated, handle)
}

// Allocated reports whether a handle is currently in the allocated set.
func (a *WindowAllocator) Allocated(handle string) bool {
	_, ok := a.allocated[handle]
	return ok
}

// Count returns the number of allocated handles, control window included.
func (a *WindowAllocator) Count() int {
	return len(a.allocated)
}
