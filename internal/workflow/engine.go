// Package workflow drives the per-account interaction with the utility's
// duplicate-bill portal: submit the lookup form, read the due-date table,
// download the bills due this month, hand them to delivery and keep the
// processed-accounts ledger honest.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"aguabot/internal/ledger"
	"aguabot/internal/report"
	"aguabot/internal/roster"
	"aguabot/lib/browser"
	"aguabot/lib/mailer"
	"aguabot/lib/timezone"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aguabot/workflow")

// Element ids/names/classes of the portal's embedded form. The form is an
// iframe and exposes different controls depending on whether a CPF/CNPJ was
// supplied, so every lookup below tolerates absence.
const (
	fieldMatricula  = "MATRICULA"
	fieldDocumento  = "FC01_CPF"
	buttonSubmit    = "btncpfvalida"
	classVencimento = "colVenc"
	idContinuation  = "linha_continuacao"
	idNextPage      = "Proxima1"

	// reason selector name and the two download trigger id families; all
	// three are suffixed with the row index
	reasonSelectPrefix = "DRLMOTIVO"
	downloadWithDoc    = "EPortalLinkImp"
	downloadWithoutDoc = "LinkBar"
)

const dueDateLayout = "02/01/06"

const (
	alertWait    = 2 * time.Second
	elementWait  = 20 * time.Second
	downloadWait = 30 * time.Second
)

const (
	statusSuccess    = "Concluída com sucesso!"
	statusInvalidDoc = "FALHA! Alerta de Documento inválido."
)

// Recorder is the slice of the ledger the engine needs.
type Recorder interface {
	Record(matricula, cliente, documento string) error
}

var _ Recorder = (*ledger.Ledger)(nil)

// Sender is the slice of the delivery pipeline the engine needs.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

var _ Sender = (*mailer.Mailer)(nil)

type Engine struct {
	Session  browser.Session
	Ledger   Recorder
	Mail     Sender
	Reporter report.Reporter

	// BodyFile is the HTML body attached to every outgoing message.
	BodyFile string

	// Sleep and Now are swappable for tests.
	Sleep func(time.Duration)
	Now   func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return timezone.Now()
}

func (e *Engine) sleep(d time.Duration) {
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

// pause is the anti-throttling measure against the portal, not a
// correctness requirement.
func (e *Engine) pause() {
	secs, err := random.IntRange(1, 5)
	if err != nil {
		secs = 3
	}
	e.sleep(time.Duration(secs) * time.Second)
}

// Run processes every account strictly in order, one browser page at a
// time. It returns an error only for run-fatal conditions (lost browser,
// failed delivery); everything narrower skips a row or an account.
func (e *Engine) Run(ctx context.Context, url string, accounts []roster.Account) error {
	for _, acct := range accounts {
		slog.Info("processing matricula", "cliente", acct.Cliente, "matricula", acct.Matricula)
		err := e.processAccount(ctx, url, acct)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processAccount(ctx context.Context, url string, acct roster.Account) error {
	ctx, span := tracer.Start(ctx, "processAccount", trace.WithAttributes(
		attribute.String("matricula", acct.Matricula),
	))
	defer span.End()

	// the portal's landing page only hosts the form in an iframe; going to
	// the frame's own URL directly skips a layer of frame juggling
	err := e.Session.Navigate(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation failed")
		return err
	}

	failed, err := e.submitLookup(ctx, acct)
	if err != nil || failed {
		return err
	}

	// a page with fewer than two due-date cells has nothing billable: it is
	// either genuinely empty or holds only the "Continuação..." header
	texts, err := e.Session.ElementTexts(ctx, browser.Class(classVencimento))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to inspect due-date column")
		return err
	}
	if len(texts) < 2 {
		slog.Info("no billable content for this matricula", "matricula", acct.Matricula)
		return nil
	}

	return e.scanDueDates(ctx, acct)
}

// submitLookup fills and submits the lookup form, then probes for the
// portal's invalid-document alert. failed=true means the account was
// rejected and already reported; the caller moves on.
func (e *Engine) submitLookup(ctx context.Context, acct roster.Account) (failed bool, err error) {
	found, err := e.Session.FillField(ctx, browser.ID(fieldMatricula), acct.Matricula)
	if err != nil {
		return false, err
	}
	if !found {
		slog.Warn("matricula field absent on this form variant", "matricula", acct.Matricula)
	}

	if acct.Documento != "" {
		found, err = e.Session.FillField(ctx, browser.ID(fieldDocumento), acct.Documento)
		if err != nil {
			return false, err
		}
		if !found {
			slog.Warn("documento field absent on this form variant", "matricula", acct.Matricula)
		}
	}

	found, err = e.Session.Click(ctx, browser.ID(buttonSubmit))
	if err != nil {
		return false, err
	}
	if !found {
		slog.Warn("submit button absent on this form variant", "matricula", acct.Matricula)
		return false, nil
	}

	text, present, err := e.Session.AcceptAlert(ctx, alertWait)
	if err != nil {
		return false, err
	}
	if present && text != "" {
		slog.Error("the page raised an invalid document alert",
			"matricula", acct.Matricula, "alert", text)
		e.publish(acct, "", statusInvalidDoc)
		return true, nil
	}
	return false, nil
}

// scanDueDates walks every page of the due-date table, downloading and
// delivering each row whose (month, year) matches today.
func (e *Engine) scanDueDates(ctx context.Context, acct roster.Account) error {
	ctx, span := tracer.Start(ctx, "scanDueDates")
	defer span.End()

	today := e.now()
	for {
		texts, err := e.Session.ElementTexts(ctx, browser.Class(classVencimento))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read due-date column")
			return err
		}

		for i, text := range texts {
			due, err := time.Parse(dueDateLayout, text)
			if err != nil {
				// header cell or the "Continuação..." title
				continue
			}
			if due.Month() != today.Month() || due.Year() != today.Year() {
				continue
			}
			err = e.processRow(ctx, acct, i, text)
			if err != nil {
				return err
			}
		}

		e.pause()

		more, err := e.Session.Exists(ctx, browser.ID(idNextPage))
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		found, err := e.Session.Click(ctx, browser.ID(idNextPage))
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
	}
}

// processRow runs REASON_SELECT -> DOWNLOAD -> RENAME -> delivery for a
// single matching due-date row. Row-local faults are logged and swallowed;
// only delivery faults abort the run.
func (e *Engine) processRow(ctx context.Context, acct roster.Account, rawIndex int, dueDate string) error {
	ctx, span := tracer.Start(ctx, "processRow", trace.WithAttributes(
		attribute.String("vencimento", dueDate),
		attribute.Int("row", rawIndex),
	))
	defer span.End()

	// the portal shifts its row numbering by one whenever the
	// "Continuação..." header occupies row 0
	index := rawIndex
	cont, err := e.Session.Exists(ctx, browser.ID(idContinuation))
	if err != nil {
		return err
	}
	if cont {
		index++
	}

	// the second option of the reason selector is the canned "segunda via"
	// reason code; the choice is a business rule, not a policy
	reason := browser.Name(reasonSelectPrefix + strconv.Itoa(index))
	found, err := e.Session.SelectOption(ctx, reason, 1, elementWait)
	if err != nil {
		return err
	}
	if !found {
		slog.Warn("reason selector never became visible, skipping row",
			"element", reason.Value, "matricula", acct.Matricula)
		return nil
	}

	trigger := downloadWithoutDoc
	if acct.Documento != "" {
		trigger = downloadWithDoc
	}
	download := browser.ID(trigger + strconv.Itoa(index))
	found, err = e.Session.ClickVisible(ctx, download, elementWait)
	if err != nil {
		return err
	}
	if !found {
		slog.Error("download trigger not found, abandoning row",
			"element", download.Value, "matricula", acct.Matricula)
		span.SetStatus(codes.Error, "download trigger not found")
		return nil
	}

	slog.Info("generating pdf", "matricula", acct.Matricula, "vencimento", dueDate)
	artifact, err := e.renameArtifact(ctx, acct, dueDate)
	if err != nil {
		// the raw download stays on disk for manual inspection
		slog.Error("failed to process the downloaded pdf", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rename failed")
		return nil
	}

	slog.Info("sending e-mail", "to", acct.Email)
	err = e.Mail.Send(ctx, mailer.Message{
		To: []string{acct.Email},
		Subject: fmt.Sprintf("Segunda via CEDAE <-> %s-%s",
			acct.Cliente, strings.ReplaceAll(acct.Matricula, "-", "")),
		HTMLBodyFile: e.BodyFile,
		Attachment:   artifact,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return fmt.Errorf("delivery failed, aborting the remaining accounts: %w", err)
	}

	slog.Info("recording matricula in the processed ledger", "matricula", acct.Matricula)
	err = e.Ledger.Record(acct.Matricula, acct.Cliente, acct.Documento)
	if err != nil {
		// accepted at-least-once behavior: the account may be sent again
		// on a future run
		slog.Error("failed to record matricula in the processed ledger", "err", err)
	}

	e.publish(acct, dueDate, statusSuccess)
	slog.Info("matricula processing finished", "matricula", acct.Matricula)
	return nil
}

// renameArtifact moves the freshly downloaded file to the canonical name
// {cliente}-{matricula without dashes}-{vencimento with dashes}.pdf.
func (e *Engine) renameArtifact(ctx context.Context, acct roster.Account, dueDate string) (string, error) {
	name, err := e.Session.LastDownloadName(ctx, downloadWait)
	if err != nil {
		return "", err
	}

	canonical := fmt.Sprintf("%s-%s-%s.pdf",
		acct.Cliente,
		strings.ReplaceAll(acct.Matricula, "-", ""),
		strings.ReplaceAll(dueDate, "/", "-"),
	)
	dir := e.Session.DownloadDir()
	src := filepath.Join(dir, name)
	dst := filepath.Join(dir, canonical)
	err = os.Rename(src, dst)
	if err != nil {
		return "", fmt.Errorf("failed to rename %s: %w", src, err)
	}
	slog.Info("pdf processed", "arquivo", dst)
	return dst, nil
}

func (e *Engine) publish(acct roster.Account, dueDate, status string) {
	if e.Reporter == nil {
		return
	}
	e.Reporter.Publish(report.Record{
		Cliente:    acct.Cliente,
		Matricula:  acct.Matricula,
		Documento:  acct.Documento,
		Vencimento: dueDate,
		Email:      acct.Email,
		Status:     status,
		When:       e.now(),
	})
}
