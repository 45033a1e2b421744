// Package chatsite implements the site-specific chat flow the broker drives:
// entering a conversation as a guest, deriving the conversation id from the
// chat frame's address, pushing messages into the input frame and scraping
// the newest reply out of the output frame.
package chatsite

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/entrhq/chatbridge/pkg/driver"
)

// Defaults describing the target site's structure.
const (
	// DefaultServiceURL is the chat service entry page.
	DefaultServiceURL = "http://www.thebot.de/"

	// Frame names for chat input and output.
	inputFrameName  = "frin"
	outputFrameName = "frout"

	// Element locators.
	loginAnchorSelector  = "a.btnAls_Gast"
	logoutAnchorSelector = "a.btnChat_beenden"
	messageInputName     = "editMsg"
)

var (
	// idPattern extracts the conversation id from the output frame's src
	// URL, e.g. ".../chat?id=abc123&...".
	idPattern = regexp.MustCompile(`(?:^|.*[&?])id=([A-Za-z0-9]+)(?:$|&.*)`)

	// answerPattern matches a bot reply line; the reply text is group 1.
	answerPattern = regexp.MustCompile(`^.*<font color="(?:#\d{3,6}|[A-Za-z]+)"><b>Brain\s*:\s*</b></font>(.+)$`)

	// lineSeparator splits the chat transcript into lines.
	lineSeparator = regexp.MustCompile(`<br[\s/]*>`)
)

// Flow drives the chat site through the driver capability interface. It
// assumes the session's window is already focused when called, which the
// broker guarantees.
type Flow struct {
	serviceURL string
	resilient  *driver.Resilient
}

// New builds a Flow for the given service URL; "" means the default site.
func New(serviceURL string) *Flow {
	if serviceURL == "" {
		serviceURL = DefaultServiceURL
	}
	return &Flow{
		serviceURL: serviceURL,
		resilient:  driver.NewResilient(driver.DefaultStaleAttempts),
	}
}

// EnterChat navigates to the chat service, logs in as a guest and derives
// the conversation id from the output frame's src URL. An empty id with a
// nil error means the page did not expose one; the broker discards the
// session in that case.
func (f *Flow) EnterChat(d driver.Driver) (string, error) {
	if err := d.Navigate(f.serviceURL); err != nil {
		return "", fmt.Errorf("opening chat service: %w", err)
	}

	loginAnchor, err := d.FindElement(driver.CSS(loginAnchorSelector))
	if err != nil {
		return "", fmt.Errorf("finding login anchor: %w", err)
	}
	if err := loginAnchor.Click(); err != nil && !errors.Is(err, driver.ErrTimeout) {
		// A timeout here comes from the aborted page load the click
		// triggers and is not a failure.
		return "", fmt.Errorf("logging in: %w", err)
	}

	outputFrame, err := d.FindElement(driver.CSS(fmt.Sprintf("frame[name=%q]", outputFrameName)))
	if err != nil {
		return "", fmt.Errorf("finding output frame: %w", err)
	}
	frameSrc, err := outputFrame.Attribute("src")
	if err != nil {
		return "", fmt.Errorf("reading output frame src: %w", err)
	}

	if m := idPattern.FindStringSubmatch(frameSrc); m != nil {
		return m[1], nil
	}
	return "", nil
}

// SendMessage types the message into the chat input and submits it.
func (f *Flow) SendMessage(d driver.Driver, message string) error {
	if err := d.SwitchToFrame(inputFrameName); err != nil {
		return fmt.Errorf("switching to input frame: %w", err)
	}
	input, err := d.FindElement(driver.Name(messageInputName))
	if err != nil {
		return fmt.Errorf("finding message input: %w", err)
	}
	if err := input.Type(message); err != nil {
		return fmt.Errorf("typing message: %w", err)
	}
	if err := input.Submit(); err != nil {
		return fmt.Errorf("submitting message: %w", err)
	}
	return nil
}

// LatestReply scrapes the newest bot reply out of the output frame. The
// extraction is the one retried operation in the system: a stale frame is
// healed by re-selecting it before the next attempt.
func (f *Flow) LatestReply(d driver.Driver) (string, bool, error) {
	if err := d.SwitchToFrame(outputFrameName); err != nil {
		return "", false, fmt.Errorf("switching to output frame: %w", err)
	}

	source, err := f.resilient.GetText(
		d.PageSource,
		func() error { return d.SwitchToFrame(outputFrameName) },
	)
	if err != nil {
		return "", false, fmt.Errorf("reading chat transcript: %w", err)
	}

	reply, ok := extractReply(source)
	return reply, ok, nil
}

// LeaveChat logs the conversation out via the logout anchor.
func (f *Flow) LeaveChat(d driver.Driver) error {
	if err := d.SwitchToFrame(inputFrameName); err != nil {
		return fmt.Errorf("switching to input frame: %w", err)
	}
	logoutAnchor, err := d.FindElement(driver.CSS(logoutAnchorSelector))
	if err != nil {
		return fmt.Errorf("finding logout anchor: %w", err)
	}
	if err := logoutAnchor.Click(); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

// extractReply pulls the newest bot reply out of a chat transcript. The
// newest message is the second-to-last transcript line; only lines matching
// the bot answer shape count as replies.
func extractReply(source string) (string, bool) {
	lines := lineSeparator.Split(source, -1)
	if len(lines) < 2 {
		return "", false
	}
	latest := strings.TrimSpace(lines[len(lines)-2])

	if m := answerPattern.FindStringSubmatch(latest); m != nil {
		return m[1], true
	}
	return "", false
}
