// Package drivertest provides a scripted in-memory Driver for broker tests.
// The fake models windows, frames and a handful of elements as plain data so
// tests can drive the broker through full request cycles without a browser.
package drivertest

import (
	"fmt"

	"github.com/entrhq/chatbridge/pkg/driver"
)

// Window is one fake browser window.
type Window struct {
	// Frames maps frame name to its page source.
	Frames map[string]string

	// FrameAttrs maps frame name to its attribute set, used for id
	// derivation from a frame's src URL.
	FrameAttrs map[string]map[string]string

	// Elements maps locator value to a scripted element.
	Elements map[string]*FakeElement
}

// FakeElement records interactions and can be scripted to fail.
type FakeElement struct {
	Clicks    int
	Typed     []string
	Submits   int
	Attrs     map[string]string
	TextValue string

	// Err, when set, is returned by every method.
	Err error

	// StaleTimes makes Text fail stale that many times before succeeding.
	StaleTimes int
}

func (e *FakeElement) Click() error {
	if e.Err != nil {
		return e.Err
	}
	e.Clicks++
	return nil
}

func (e *FakeElement) Type(text string) error {
	if e.Err != nil {
		return e.Err
	}
	e.Typed = append(e.Typed, text)
	return nil
}

func (e *FakeElement) Submit() error {
	if e.Err != nil {
		return e.Err
	}
	e.Submits++
	return nil
}

func (e *FakeElement) Attribute(name string) (string, error) {
	if e.Err != nil {
		return "", e.Err
	}
	return e.Attrs[name], nil
}

func (e *FakeElement) Text() (string, error) {
	if e.StaleTimes > 0 {
		e.StaleTimes--
		return "", driver.ErrStaleReference
	}
	if e.Err != nil {
		return "", e.Err
	}
	return e.TextValue, nil
}

// Fake is a scripted Driver. Windows are addressed by handles the test
// assigns; OpenWindow mints "w1", "w2", ... beyond any pre-seeded windows.
type Fake struct {
	Windows map[string]*Window

	// Order in which handles were opened, so WindowHandles is stable.
	order []string

	focused      string
	currentFrame string
	counter      int

	// NextSource, when non-empty, becomes the page source of the next
	// window opened. Used to script freshly navigated chat pages.
	NextSource map[string]string

	// NextFrameAttrs mirrors NextSource for frame attributes.
	NextFrameAttrs map[string]map[string]string

	// OpenErr, when set, fails OpenWindow.
	OpenErr error

	// SuppressNewHandle makes OpenWindow succeed without registering a
	// window, simulating a driver that lost the new window.
	SuppressNewHandle bool

	// PageSourceErrs is consumed one error per PageSource call before
	// real sources are served; nil entries mean success. Used to script
	// stale reads.
	PageSourceErrs []error

	// Calls records every driver call in order, for assertions.
	Calls []string

	// Closed collects handles of closed windows.
	Closed []string

	// QuitCalled reports whether Quit ran.
	QuitCalled bool
}

// New returns an empty fake with one control window "control".
func New() *Fake {
	f := &Fake{Windows: make(map[string]*Window)}
	f.AddWindow("control", &Window{})
	f.focused = "control"
	return f
}

// AddWindow registers a pre-built window under the given handle.
func (f *Fake) AddWindow(handle string, w *Window) {
	if w.Frames == nil {
		w.Frames = make(map[string]string)
	}
	if w.FrameAttrs == nil {
		w.FrameAttrs = make(map[string]map[string]string)
	}
	if w.Elements == nil {
		w.Elements = make(map[string]*FakeElement)
	}
	f.Windows[handle] = w
	f.order = append(f.order, handle)
}

// Focused returns the handle of the currently focused window.
func (f *Fake) Focused() string {
	return f.focused
}

// Window returns the fake window for a handle, creating it if absent so
// tests can script lazily.
func (f *Fake) Window(handle string) *Window {
	w, ok := f.Windows[handle]
	if !ok {
		w = &Window{}
		f.AddWindow(handle, w)
	}
	return w
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

func (f *Fake) OpenWindow() error {
	f.record("OpenWindow")
	if f.OpenErr != nil {
		return f.OpenErr
	}
	if f.SuppressNewHandle {
		return nil
	}
	f.counter++
	handle := fmt.Sprintf("w%d", f.counter)
	w := &Window{Frames: f.NextSource, FrameAttrs: f.NextFrameAttrs}
	f.NextSource = nil
	f.NextFrameAttrs = nil
	f.AddWindow(handle, w)
	return nil
}

func (f *Fake) WindowHandles() ([]string, error) {
	f.record("WindowHandles")
	handles := make([]string, len(f.order))
	copy(handles, f.order)
	return handles, nil
}

func (f *Fake) Focus(handle string) error {
	f.record("Focus " + handle)
	if _, ok := f.Windows[handle]; !ok {
		return fmt.Errorf("focus %q: %w", handle, driver.ErrNoSuchWindow)
	}
	f.focused = handle
	f.currentFrame = ""
	return nil
}

func (f *Fake) Navigate(url string) error {
	f.record("Navigate " + url)
	f.currentFrame = ""
	return nil
}

func (f *Fake) PageSource() (string, error) {
	f.record("PageSource")
	if len(f.PageSourceErrs) > 0 {
		err := f.PageSourceErrs[0]
		f.PageSourceErrs = f.PageSourceErrs[1:]
		if err != nil {
			return "", err
		}
	}
	w, ok := f.Windows[f.focused]
	if !ok {
		return "", driver.ErrNoSuchWindow
	}
	return w.Frames[f.currentFrame], nil
}

func (f *Fake) SwitchToFrame(name string) error {
	f.record("SwitchToFrame " + name)
	w, ok := f.Windows[f.focused]
	if !ok {
		return driver.ErrNoSuchWindow
	}
	if _, ok := w.Frames[name]; !ok {
		return fmt.Errorf("frame %q: %w", name, driver.ErrNoSuchFrame)
	}
	f.currentFrame = name
	return nil
}

func (f *Fake) FindElement(loc driver.Locator) (driver.Element, error) {
	f.record("FindElement " + loc.Value)
	w, ok := f.Windows[f.focused]
	if !ok {
		return nil, driver.ErrNoSuchWindow
	}
	el, ok := w.Elements[loc.Value]
	if !ok {
		return nil, fmt.Errorf("element %q: %w", loc.Value, driver.ErrNoSuchElement)
	}
	return el, nil
}

func (f *Fake) CloseCurrentWindow() error {
	f.record("CloseCurrentWindow")
	if _, ok := f.Windows[f.focused]; !ok {
		return driver.ErrNoSuchWindow
	}
	delete(f.Windows, f.focused)
	for i, h := range f.order {
		if h == f.focused {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.Closed = append(f.Closed, f.focused)
	f.focused = ""
	return nil
}

func (f *Fake) Quit() error {
	f.record("Quit")
	f.QuitCalled = true
	return nil
}

var _ driver.Driver = (*Fake)(nil)
