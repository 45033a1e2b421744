package driver

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// Options configures the Playwright-backed driver.
type Options struct {
	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// Viewport sets the window size for every page.
	ViewportWidth  int
	ViewportHeight int

	// PageLoadTimeout bounds navigations and element waits, in milliseconds.
	PageLoadTimeout float64
}

// Defaults applied when an Options field is zero.
const (
	DefaultViewportWidth   = 1280
	DefaultViewportHeight  = 720
	DefaultPageLoadTimeout = 3000.0
)

// Playwright is the production Driver backed by a single Chromium instance.
// Each broker "window" is one page in a shared browser context, addressed by
// an opaque handle minted at open time.
//
// It is not safe for concurrent use; the broker's dispatch loop owns it.
type Playwright struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext

	pages        map[string]playwright.Page
	currentPage  playwright.Page
	currentFrame playwright.Frame
	timeout      float64
}

// NewPlaywright installs the Playwright runtime if needed, launches a
// Chromium instance and opens the initial control window. The returned
// driver starts focused on that window.
func NewPlaywright(opts Options) (*Playwright, error) {
	if opts.ViewportWidth == 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.ViewportHeight == 0 {
		opts.ViewportHeight = DefaultViewportHeight
	}
	if opts.PageLoadTimeout == 0 {
		opts.PageLoadTimeout = DefaultPageLoadTimeout
	}

	// Discard installer output so it cannot interleave with our own logs.
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("installing playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	d := &Playwright{
		pw:      pw,
		browser: browser,
		context: context,
		pages:   make(map[string]playwright.Page),
		timeout: opts.PageLoadTimeout,
	}

	// The control window every later window is spawned from.
	if err := d.OpenWindow(); err != nil {
		d.Quit()
		return nil, err
	}
	handles, _ := d.WindowHandles()
	if len(handles) > 0 {
		if err := d.Focus(handles[0]); err != nil {
			d.Quit()
			return nil, err
		}
	}
	return d, nil
}

// OpenWindow opens a new blank page in the shared context and registers it
// under a fresh handle. Focus is left unchanged; the broker discovers the
// new handle by diffing WindowHandles.
func (d *Playwright) OpenWindow() error {
	page, err := d.context.NewPage()
	if err != nil {
		return fmt.Errorf("opening window: %w", translateError(err))
	}
	page.SetDefaultTimeout(d.timeout)
	d.pages[uuid.New().String()] = page
	if d.currentPage == nil {
		d.currentPage = page
	}
	return nil
}

// WindowHandles reports the handle of every open page.
func (d *Playwright) WindowHandles() ([]string, error) {
	handles := make([]string, 0, len(d.pages))
	for handle := range d.pages {
		handles = append(handles, handle)
	}
	return handles, nil
}

// Focus switches the driver to the page registered under handle and resets
// the frame context to the top of the document.
func (d *Playwright) Focus(handle string) error {
	page, ok := d.pages[handle]
	if !ok {
		return fmt.Errorf("focusing window %q: %w", handle, ErrNoSuchWindow)
	}
	d.currentPage = page
	d.currentFrame = nil
	if err := page.BringToFront(); err != nil {
		return fmt.Errorf("focusing window %q: %w", handle, translateError(err))
	}
	return nil
}

// Navigate loads url in the focused page.
func (d *Playwright) Navigate(url string) error {
	if d.currentPage == nil {
		return ErrNoSuchWindow
	}
	d.currentFrame = nil
	if _, err := d.currentPage.Goto(url, playwright.PageGotoOptions{
		Timeout: playwright.Float(d.timeout),
	}); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, translateError(err))
	}
	return nil
}

// PageSource returns the markup of the focused frame, or of the whole page
// when no frame is selected.
func (d *Playwright) PageSource() (string, error) {
	if d.currentPage == nil {
		return "", ErrNoSuchWindow
	}
	if d.currentFrame != nil {
		content, err := d.currentFrame.Content()
		if err != nil {
			return "", translateError(err)
		}
		return content, nil
	}
	content, err := d.currentPage.Content()
	if err != nil {
		return "", translateError(err)
	}
	return content, nil
}

// SwitchToFrame selects the named frame, searching the whole document rather
// than the currently selected frame.
func (d *Playwright) SwitchToFrame(name string) error {
	if d.currentPage == nil {
		return ErrNoSuchWindow
	}
	for _, frame := range d.currentPage.Frames() {
		if frame.Name() == name {
			d.currentFrame = frame
			return nil
		}
	}
	return fmt.Errorf("switching to frame %q: %w", name, ErrNoSuchFrame)
}

// FindElement locates one element in the focused frame.
func (d *Playwright) FindElement(loc Locator) (Element, error) {
	if d.currentPage == nil {
		return nil, ErrNoSuchWindow
	}
	selector := loc.Value
	if loc.Kind == ByName {
		selector = fmt.Sprintf("[name=%q]", loc.Value)
	}

	var (
		handle playwright.ElementHandle
		err    error
	)
	if d.currentFrame != nil {
		handle, err = d.currentFrame.WaitForSelector(selector, playwright.FrameWaitForSelectorOptions{
			Timeout: playwright.Float(d.timeout),
		})
	} else {
		handle, err = d.currentPage.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(d.timeout),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("locating %q: %w", selector, translateError(err))
	}
	if handle == nil {
		return nil, fmt.Errorf("locating %q: %w", selector, ErrNoSuchElement)
	}
	return &playwrightElement{handle: handle}, nil
}

// CloseCurrentWindow closes the focused page and forgets its handle.
func (d *Playwright) CloseCurrentWindow() error {
	if d.currentPage == nil {
		return ErrNoSuchWindow
	}
	for handle, page := range d.pages {
		if page == d.currentPage {
			delete(d.pages, handle)
			break
		}
	}
	err := d.currentPage.Close()
	d.currentPage = nil
	d.currentFrame = nil
	if err != nil {
		return translateError(err)
	}
	return nil
}

// Quit tears down every page, the browser and the Playwright runtime.
func (d *Playwright) Quit() error {
	for handle, page := range d.pages {
		_ = page.Close()
		delete(d.pages, handle)
	}
	var errs []error
	if d.context != nil {
		if err := d.context.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("quitting driver: %v", errs)
	}
	return nil
}

// playwrightElement adapts an ElementHandle to the Element interface.
type playwrightElement struct {
	handle playwright.ElementHandle
}

func (e *playwrightElement) Click() error {
	return translateError(e.handle.Click())
}

func (e *playwrightElement) Type(text string) error {
	return translateError(e.handle.Fill(text))
}

func (e *playwrightElement) Submit() error {
	return translateError(e.handle.Press("Enter"))
}

func (e *playwrightElement) Attribute(name string) (string, error) {
	value, err := e.handle.GetAttribute(name)
	if err != nil {
		return "", translateError(err)
	}
	return value, nil
}

func (e *playwrightElement) Text() (string, error) {
	text, err := e.handle.TextContent()
	if err != nil {
		return "", translateError(err)
	}
	return text, nil
}

// translateError maps Playwright failures onto the package's sentinel
// taxonomy so callers never have to match on message strings themselves.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not attached to the DOM"),
		strings.Contains(msg, "Element is not attached"):
		return fmt.Errorf("%w: %s", ErrStaleReference, msg)
	case strings.Contains(msg, "Timeout") || strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %s", ErrTimeout, msg)
	case strings.Contains(msg, "failed to find element"),
		strings.Contains(msg, "no element matches"):
		return fmt.Errorf("%w: %s", ErrNoSuchElement, msg)
	case strings.Contains(msg, "Target page, context or browser has been closed"):
		return fmt.Errorf("%w: %s", ErrNoSuchWindow, msg)
	}
	return err
}
