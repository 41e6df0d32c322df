// Package browsertest provides a scripted browser.Session for workflow
// tests: page states are plain HTML fixtures, interactions are recorded,
// downloads materialize as real files in a temp directory.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aguabot/lib/browser"

	"github.com/PuerkitoBio/goquery"
)

// Page is one scripted page state. The session serves pages in order,
// advancing on Navigate and on clicks that the test marks as page turns.
type Page struct {
	HTML string
	// Alerts maps an element id to the native alert text raised when that
	// element is clicked.
	Alerts map[string]string
	// Downloads maps an element id to the filename "downloaded" when that
	// element is clicked. The file is created in the session's directory.
	Downloads map[string]string
	// NextPageID is the id of the control that advances to the next page.
	NextPageID string
}

type Session struct {
	dir   string
	pages []Page
	docs  []*goquery.Document
	idx   int
	first bool

	alerts    []string
	completed []string

	Navigations []string
	Fills       []string
	Clicks      []string
	Selects     []string
}

var _ browser.Session = (*Session)(nil)

func NewSession(dir string, pages ...Page) (*Session, error) {
	s := &Session{dir: dir, pages: pages, first: true}
	for _, p := range pages {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
		if err != nil {
			return nil, err
		}
		s.docs = append(s.docs, doc)
	}
	return s, nil
}

func (s *Session) page() (Page, *goquery.Document) {
	if s.idx >= len(s.pages) {
		return Page{}, nil
	}
	return s.pages[s.idx], s.docs[s.idx]
}

func (s *Session) advance() {
	s.idx++
}

func (s *Session) find(loc browser.Locator) *goquery.Selection {
	_, doc := s.page()
	if doc == nil {
		return nil
	}
	return doc.Find(loc.CSS())
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.Navigations = append(s.Navigations, url)
	// the first navigation lands on the first scripted page, later ones
	// (next account) pull the next state
	if s.first {
		s.first = false
		return nil
	}
	s.advance()
	return nil
}

func (s *Session) FillField(ctx context.Context, loc browser.Locator, value string) (bool, error) {
	sel := s.find(loc)
	if sel == nil || sel.Length() == 0 {
		return false, nil
	}
	s.Fills = append(s.Fills, fmt.Sprintf("%s=%s", loc.Value, value))
	return true, nil
}

func (s *Session) Click(ctx context.Context, loc browser.Locator) (bool, error) {
	return s.ClickVisible(ctx, loc, 0)
}

func (s *Session) ClickVisible(ctx context.Context, loc browser.Locator, _ time.Duration) (bool, error) {
	page, _ := s.page()
	sel := s.find(loc)
	if sel == nil || sel.Length() == 0 {
		return false, nil
	}
	s.Clicks = append(s.Clicks, loc.Value)

	if text, ok := page.Alerts[loc.Value]; ok {
		s.alerts = append(s.alerts, text)
	}
	if name, ok := page.Downloads[loc.Value]; ok {
		err := os.WriteFile(filepath.Join(s.dir, name), []byte("%PDF-1.4 fake"), 0o644)
		if err != nil {
			return true, err
		}
		s.completed = append(s.completed, name)
	}
	if page.NextPageID != "" && loc.Value == page.NextPageID {
		s.advance()
	}
	return true, nil
}

func (s *Session) SelectOption(ctx context.Context, loc browser.Locator, index int, _ time.Duration) (bool, error) {
	sel := s.find(loc)
	if sel == nil || sel.Length() == 0 {
		return false, nil
	}
	s.Selects = append(s.Selects, fmt.Sprintf("%s:%d", loc.Value, index))
	return true, nil
}

func (s *Session) ElementTexts(ctx context.Context, loc browser.Locator) ([]string, error) {
	sel := s.find(loc)
	if sel == nil {
		return nil, nil
	}
	var texts []string
	sel.Each(func(_ int, el *goquery.Selection) {
		texts = append(texts, strings.TrimSpace(el.Text()))
	})
	return texts, nil
}

func (s *Session) Exists(ctx context.Context, loc browser.Locator) (bool, error) {
	sel := s.find(loc)
	return sel != nil && sel.Length() > 0, nil
}

func (s *Session) AcceptAlert(ctx context.Context, _ time.Duration) (string, bool, error) {
	if len(s.alerts) == 0 {
		return "", false, nil
	}
	text := s.alerts[0]
	s.alerts = s.alerts[1:]
	return text, true, nil
}

func (s *Session) RunScript(ctx context.Context, script string, out any) error {
	return fmt.Errorf("browsertest: scripts are not supported")
}

func (s *Session) LastDownloadName(ctx context.Context, _ time.Duration) (string, error) {
	if len(s.completed) == 0 {
		return "", fmt.Errorf("no download completed")
	}
	name := s.completed[len(s.completed)-1]
	s.completed = s.completed[:0]
	return name, nil
}

func (s *Session) DownloadDir() string { return s.dir }

func (s *Session) Close() error { return nil }
