// Package driver defines the capability interface the broker consumes from
// the underlying browser automation layer, together with the error taxonomy
// callers match on and the stale-reference retry wrapper. The production
// implementation is backed by Playwright; tests use the scripted fake in
// drivertest.
package driver

import "errors"

// Sentinel conditions surfaced by driver implementations. Callers match them
// with errors.Is; implementations wrap them with context via fmt.Errorf.
var (
	// ErrStaleReference indicates a previously located element no longer
	// corresponds to live page content, typically after a navigation or
	// re-render.
	ErrStaleReference = errors.New("driver: stale element reference")

	// ErrTimeout indicates a page or element operation exceeded the
	// driver's bounded wait.
	ErrTimeout = errors.New("driver: operation timed out")

	// ErrNoSuchElement indicates the locator matched nothing.
	ErrNoSuchElement = errors.New("driver: no such element")

	// ErrNoSuchFrame indicates the named frame is not present.
	ErrNoSuchFrame = errors.New("driver: no such frame")

	// ErrNoSuchWindow indicates the window handle is not addressable.
	ErrNoSuchWindow = errors.New("driver: no such window")
)

// LocatorKind selects the lookup strategy for a locator.
type LocatorKind int

const (
	// ByCSS locates by CSS selector.
	ByCSS LocatorKind = iota
	// ByName locates by the element's name attribute.
	ByName
)

// Locator identifies one element on the focused page.
type Locator struct {
	Kind  LocatorKind
	Value string
}

// CSS builds a CSS selector locator.
func CSS(selector string) Locator {
	return Locator{Kind: ByCSS, Value: selector}
}

// Name builds a name-attribute locator.
func Name(name string) Locator {
	return Locator{Kind: ByName, Value: name}
}

// Element is one located page element. Any method may fail with
// ErrStaleReference once the page has moved on from under it.
type Element interface {
	Click() error
	Type(text string) error
	Submit() error
	Attribute(name string) (string, error)
	Text() (string, error)
}

// Driver is the capability surface the broker needs from the automation
// layer. All window, frame and element addressing goes through it; the broker
// never talks to the browser by any other path.
//
// Implementations are not required to be safe for concurrent use. The broker
// serializes every call through its single dispatch loop.
type Driver interface {
	// OpenWindow opens a new blank window from the currently focused one.
	OpenWindow() error

	// WindowHandles reports every currently open window handle.
	WindowHandles() ([]string, error)

	// Focus switches the driver's context to the given window.
	Focus(handle string) error

	// Navigate loads the given URL in the focused window.
	Navigate(url string) error

	// PageSource returns the markup of the focused window's current frame.
	PageSource() (string, error)

	// SwitchToFrame moves the focused context into the named frame,
	// searching from the top of the document.
	SwitchToFrame(name string) error

	// FindElement locates one element in the focused frame.
	FindElement(loc Locator) (Element, error)

	// CloseCurrentWindow closes the focused window.
	CloseCurrentWindow() error

	// Quit tears the whole browser down.
	Quit() error
}
