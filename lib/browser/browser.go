// Package browser is the capability boundary between the bill-retrieval
// workflow and a live browser. The workflow only ever talks to Session, so
// it can run against a scripted fake (see browsertest) in tests and against
// Chrome in production.
package browser

import (
	"context"
	"fmt"
	"time"
)

type By int

const (
	ByID By = iota
	ByName
	ByClass
)

// Locator identifies a page element the same way the portal's markup does:
// by id, name or class attribute.
type Locator struct {
	By    By
	Value string
}

func ID(v string) Locator    { return Locator{By: ByID, Value: v} }
func Name(v string) Locator  { return Locator{By: ByName, Value: v} }
func Class(v string) Locator { return Locator{By: ByClass, Value: v} }

// CSS renders the locator as a css selector.
func (l Locator) CSS() string {
	switch l.By {
	case ByName:
		return fmt.Sprintf(`[name=%q]`, l.Value)
	case ByClass:
		return "." + l.Value
	default:
		return "#" + l.Value
	}
}

func (l Locator) String() string { return l.CSS() }

// Session drives one browser tab. Locate/act operations report
// found/not-found through the bool, hard faults (lost browser, bad script)
// through the error. A not-found element is never an error, the portal's
// form legitimately omits controls depending on the account.
type Session interface {
	Navigate(ctx context.Context, url string) error

	// FillField waits for the element and types value into it.
	FillField(ctx context.Context, loc Locator, value string) (found bool, err error)
	// Click waits for the element with the session's default timeout.
	Click(ctx context.Context, loc Locator) (found bool, err error)
	// ClickVisible waits up to timeout for the element to become visible.
	ClickVisible(ctx context.Context, loc Locator, timeout time.Duration) (found bool, err error)
	// SelectOption waits up to timeout for a <select> and picks the option
	// at the given index.
	SelectOption(ctx context.Context, loc Locator, index int, timeout time.Duration) (found bool, err error)
	// ElementTexts returns the trimmed text of every element matching loc,
	// in document order. No matches is an empty slice, not an error.
	ElementTexts(ctx context.Context, loc Locator) ([]string, error)
	// Exists reports immediate presence without waiting.
	Exists(ctx context.Context, loc Locator) (bool, error)

	// AcceptAlert reports whether a native javascript alert fired within
	// wait, returning its message. The dialog itself is always dismissed.
	AcceptAlert(ctx context.Context, wait time.Duration) (text string, present bool, err error)

	RunScript(ctx context.Context, script string, out any) error

	// LastDownloadName blocks until the most recently triggered download
	// completes and returns its filename (no directory).
	LastDownloadName(ctx context.Context, timeout time.Duration) (string, error)
	// DownloadDir is the directory downloads land in.
	DownloadDir() string

	Close() error
}
