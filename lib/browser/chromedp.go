package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// DefaultWait matches the portal's worst observed render latency. The result
// table is built by postbacks inside an iframe and regularly takes several
// seconds to settle.
const DefaultWait = 20 * time.Second

type ChromeOptions struct {
	Headless bool
	// DownloadDir defaults to ~/Downloads, which is where the utility's
	// operators expect leftover artifacts after a failed run.
	DownloadDir string
}

type chromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	downloadDir string

	mu        sync.Mutex
	dialogs   []string
	pending   map[string]string
	completed []string
}

// NewChrome starts a Chrome instance and returns a Session bound to it.
func NewChrome(ctx context.Context, opts ChromeOptions) (Session, error) {
	dir := opts.DownloadDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, "Downloads")
	}
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, err
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		downloadDir: dir,
		pending:     map[string]string{},
	}

	chromedp.ListenTarget(tabCtx, s.listen)

	err = chromedp.Run(tabCtx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
	)
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return s, nil
}

func (s *chromeSession) listen(ev any) {
	switch e := ev.(type) {
	case *page.EventJavascriptDialogOpening:
		s.mu.Lock()
		s.dialogs = append(s.dialogs, e.Message)
		s.mu.Unlock()
		// the dialog blocks the page until answered
		go func() {
			err := chromedp.Run(s.ctx, page.HandleJavaScriptDialog(true))
			if err != nil {
				slog.Warn("failed to dismiss javascript dialog", "err", err)
			}
		}()
	case *cdpbrowser.EventDownloadWillBegin:
		s.mu.Lock()
		s.pending[e.GUID] = e.SuggestedFilename
		s.mu.Unlock()
	case *cdpbrowser.EventDownloadProgress:
		if e.State != cdpbrowser.DownloadProgressStateCompleted {
			return
		}
		s.mu.Lock()
		if name, ok := s.pending[e.GUID]; ok {
			delete(s.pending, e.GUID)
			s.completed = append(s.completed, name)
		}
		s.mu.Unlock()
	}
}

// run executes actions with a deadline, translating a timeout into a
// not-found outcome rather than an error.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	err := chromedp.Run(tctx, actions...)
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(s.ctx, chromedp.Navigate(url))
}

func (s *chromeSession) FillField(ctx context.Context, loc Locator, value string) (bool, error) {
	sel := loc.CSS()
	return s.run(ctx, DefaultWait,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

func (s *chromeSession) Click(ctx context.Context, loc Locator) (bool, error) {
	return s.ClickVisible(ctx, loc, DefaultWait)
}

func (s *chromeSession) ClickVisible(ctx context.Context, loc Locator, timeout time.Duration) (bool, error) {
	sel := loc.CSS()
	return s.run(ctx, timeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
}

func (s *chromeSession) SelectOption(ctx context.Context, loc Locator, index int, timeout time.Duration) (bool, error) {
	sel := loc.CSS()
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		el.selectedIndex = %d;
		el.dispatchEvent(new Event('change', { bubbles: true }));
	})()`, sel, index)
	var ignored any
	return s.run(ctx, timeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Evaluate(script, &ignored),
	)
}

func (s *chromeSession) ElementTexts(ctx context.Context, loc Locator) ([]string, error) {
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(e => e.innerText.trim())`,
		loc.CSS(),
	)
	var texts []string
	err := s.RunScript(ctx, script, &texts)
	if err != nil {
		return nil, err
	}
	return texts, nil
}

func (s *chromeSession) Exists(ctx context.Context, loc Locator) (bool, error) {
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, loc.CSS())
	var present bool
	err := s.RunScript(ctx, script, &present)
	return present, err
}

func (s *chromeSession) AcceptAlert(ctx context.Context, wait time.Duration) (string, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		s.mu.Lock()
		if len(s.dialogs) > 0 {
			text := s.dialogs[0]
			s.dialogs = s.dialogs[1:]
			s.mu.Unlock()
			return text, true, nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *chromeSession) RunScript(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(s.ctx, chromedp.Evaluate(script, out))
}

func (s *chromeSession) LastDownloadName(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if len(s.completed) > 0 {
			name := s.completed[len(s.completed)-1]
			s.completed = s.completed[:0]
			s.mu.Unlock()
			return name, nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return "", fmt.Errorf("no download completed within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (s *chromeSession) DownloadDir() string { return s.downloadDir }

func (s *chromeSession) Close() error {
	s.cancel()
	s.allocCancel()
	return nil
}
