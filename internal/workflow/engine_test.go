package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aguabot/internal/report"
	"aguabot/internal/roster"
	"aguabot/lib/browser/browsertest"
	"aguabot/lib/mailer"
	"aguabot/lib/timezone"

	"github.com/stretchr/testify/require"
)

const portalURL = "https://portal.example.com/segunda-via"

// july 2024, so fixtures can reuse the 05/07/24 date from the filename
// convention
var today = time.Date(2024, 7, 10, 9, 0, 0, 0, timezone.Location)

var maria = roster.Account{
	Cliente:   "Maria Silva",
	Matricula: "123-456",
	Documento: "11122233344",
	Email:     "maria@example.com",
}

var joao = roster.Account{
	Cliente:   "João Souza",
	Matricula: "789-012",
	Email:     "joao@example.com",
}

type fakeSender struct {
	msgs []mailer.Message
	err  error
	log  *[]string
}

func (f *fakeSender) Send(ctx context.Context, msg mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	if f.log != nil {
		*f.log = append(*f.log, "send")
	}
	return nil
}

type fakeRecorder struct {
	recorded []string
	log      *[]string
}

func (f *fakeRecorder) Record(matricula, cliente, documento string) error {
	f.recorded = append(f.recorded, matricula)
	if f.log != nil {
		*f.log = append(*f.log, "record")
	}
	return nil
}

type fakeReporter struct {
	records []report.Record
}

func (f *fakeReporter) Publish(rec report.Record) {
	f.records = append(f.records, rec)
}

type harness struct {
	session  *browsertest.Session
	sender   *fakeSender
	recorder *fakeRecorder
	reporter *fakeReporter
	engine   *Engine
	dir      string
}

func newHarness(t *testing.T, pages ...browsertest.Page) *harness {
	t.Helper()
	dir := t.TempDir()
	session, err := browsertest.NewSession(dir, pages...)
	require.NoError(t, err)

	body := filepath.Join(dir, "corpo_email.html")
	require.NoError(t, os.WriteFile(body, []byte("<p>segue em anexo</p>"), 0o644))

	sender := &fakeSender{}
	recorder := &fakeRecorder{}
	reporter := &fakeReporter{}
	return &harness{
		session:  session,
		sender:   sender,
		recorder: recorder,
		reporter: reporter,
		dir:      dir,
		engine: &Engine{
			Session:  session,
			Ledger:   recorder,
			Mail:     sender,
			Reporter: reporter,
			BodyFile: body,
			Sleep:    func(time.Duration) {},
			Now:      func() time.Time { return today },
		},
	}
}

func formHTML(rows string) string {
	return fmt.Sprintf(`<html><body>
		<input id="MATRICULA"><input id="FC01_CPF">
		<button id="btncpfvalida">Solicitar</button>
		<table><tr><td class="colVenc">Vencimento</td></tr>%s</table>
	</body></html>`, rows)
}

func TestDownloadsOnlyCurrentMonthRows(t *testing.T) {
	h := newHarness(t, browsertest.Page{
		HTML: formHTML(`
			<tr><td class="colVenc">05/07/24</td></tr>
			<tr><td class="colVenc">15/06/24</td></tr>
			<tr><td class="colVenc">05/07/23</td></tr>
			<select name="DRLMOTIVO1"></select>
			<a id="EPortalLinkImp1">baixar</a>`),
		Downloads: map[string]string{"EPortalLinkImp1": "fatura (1).pdf"},
	})

	err := h.engine.Run(context.Background(), portalURL, []roster.Account{maria})
	require.NoError(t, err)

	// only the row due in july 2024 triggered the sequence
	require.Equal(t, []string{"DRLMOTIVO1:1"}, h.session.Selects)
	require.Contains(t, h.session.Clicks, "EPortalLinkImp1")

	require.Len(t, h.sender.msgs, 1)
	msg := h.sender.msgs[0]
	require.Equal(t, []string{"maria@example.com"}, msg.To)
	require.Equal(t, "Segunda via CEDAE <-> Maria Silva-123456", msg.Subject)

	// canonical artifact name
	want := filepath.Join(h.dir, "Maria Silva-123456-05-07-24.pdf")
	require.Equal(t, want, msg.Attachment)
	_, err = os.Stat(want)
	require.NoError(t, err)

	require.Equal(t, []string{"123-456"}, h.recorder.recorded)
	require.Len(t, h.reporter.records, 1)
	require.Equal(t, "Concluída com sucesso!", h.reporter.records[0].Status)
	require.Equal(t, "05/07/24", h.reporter.records[0].Vencimento)
}

func TestContinuationRowShiftsIndex(t *testing.T) {
	// joao has no documento: the trigger family is LinkBar and the
	// continuation header bumps the effective index from 1 to 2
	h := newHarness(t, browsertest.Page{
		HTML: formHTML(`
			<tr id="linha_continuacao"><td>Continuação...</td></tr>
			<tr><td class="colVenc">20/07/24</td></tr>
			<select name="DRLMOTIVO2"></select>
			<a id="LinkBar2">baixar</a>`),
		Downloads: map[string]string{"LinkBar2": "fatura.pdf"},
	})

	err := h.engine.Run(context.Background(), portalURL, []roster.Account{joao})
	require.NoError(t, err)

	require.Equal(t, []string{"DRLMOTIVO2:1"}, h.session.Selects)
	require.Contains(t, h.session.Clicks, "LinkBar2")
	require.Len(t, h.sender.msgs, 1)
	require.Equal(t, filepath.Join(h.dir, "João Souza-789012-20-07-24.pdf"), h.sender.msgs[0].Attachment)
}

func TestInvalidDocumentAlertShortCircuits(t *testing.T) {
	h := newHarness(t, browsertest.Page{
		HTML: formHTML(`
			<tr><td class="colVenc">05/07/24</td></tr>
			<select name="DRLMOTIVO1"></select>
			<a id="EPortalLinkImp1">baixar</a>`),
		Alerts: map[string]string{"btncpfvalida": "CPF/CNPJ inválido"},
	})

	err := h.engine.Run(context.Background(), portalURL, []roster.Account{maria})
	require.NoError(t, err)

	// no scan, no download, no delivery, no ledger entry
	require.Empty(t, h.session.Selects)
	require.Empty(t, h.sender.msgs)
	require.Empty(t, h.recorder.recorded)

	require.Len(t, h.reporter.records, 1)
	require.Equal(t, "FALHA! Alerta de Documento inválido.", h.reporter.records[0].Status)
}

func TestPageWithoutBillableContentIsSkipped(t *testing.T) {
	h := newHarness(t, browsertest.Page{
		// a lone header cell: pagination artifact or genuinely empty
		HTML: formHTML(``),
	})

	err := h.engine.Run(context.Background(), portalURL, []roster.Account{maria})
	require.NoError(t, err)
	require.Empty(t, h.session.Selects)
	require.Empty(t, h.sender.msgs)
	require.Empty(t, h.recorder.recorded)
	require.Empty(t, h.reporter.records)
}

func TestDeliveryFailureAbortsRun(t *testing.T) {
	page := browsertest.Page{
		HTML: formHTML(`
			<tr><td class="colVenc">05/07/24</td></tr>
			<select name="DRLMOTIVO1"></select>
			<a id="EPortalLinkImp1">baixar</a>`),
		Downloads: map[string]string{"EPortalLinkImp1": "fatura.pdf"},
	}
	h := newHarness(t, page, page)
	h.sender.err = fmt.Errorf("smtp connection refused")

	err := h.engine.Run(context.Background(), portalURL, []roster.Account{maria, joao})
	require.ErrorContains(t, err, "aborting the remaining accounts")

	// a failed transmission never produces a ledger entry, and the second
	// account is never attempted
	require.Empty(t, h.recorder.recorded)
	require.Len(t, h.session.Navigations, 1)
}

func TestRecordOnlyAfterSuccessfulSend(t *testing.T) {
	var log []string
	h := newHarness(t, browsertest.Page{
		HTML: formHTML(`
			<tr><td class="colVenc">05/07/24</td></tr>
			<select name="DRLMOTIVO1"></select>
			<a id="EPortalLinkImp1">baixar</a>`),
		Downloads: map[string]string{"EPortalLinkImp1": "fatura.pdf"},
	})
	h.sender.log = &log
	h.recorder.log = &log

	err := h.engine.Run(context.Background(), portalURL, []roster.Account{maria})
	require.NoError(t, err)
	require.Equal(t, []string{"send", "record"}, log)
}

func TestMissingDownloadTriggerAbandonsRowOnly(t *testing.T) {
	h := newHarness(t, browsertest.Page{
		HTML: formHTML(`
			<tr><td class="colVenc">05/07/24</td></tr>
			<select name="DRLMOTIVO1"></select>`),
	})

	err := h.engine.Run(context.Background(), portalURL, []roster.Account{maria})
	require.NoError(t, err)
	require.Empty(t, h.sender.msgs)
	require.Empty(t, h.recorder.recorded)
}

func TestPaginatesThroughResultPages(t *testing.T) {
	h := newHarness(t,
		browsertest.Page{
			HTML: formHTML(`
				<tr><td class="colVenc">05/07/24</td></tr>
				<select name="DRLMOTIVO1"></select>
				<a id="EPortalLinkImp1">baixar</a>
				<a id="Proxima1">próxima</a>`),
			Downloads:  map[string]string{"EPortalLinkImp1": "fatura1.pdf"},
			NextPageID: "Proxima1",
		},
		browsertest.Page{
			HTML: `<html><body><table>
				<tr><td class="colVenc">Vencimento</td></tr>
				<tr><td class="colVenc">25/07/24</td></tr>
				<select name="DRLMOTIVO1"></select>
				<a id="EPortalLinkImp1">baixar</a>
			</table></body></html>`,
			Downloads: map[string]string{"EPortalLinkImp1": "fatura2.pdf"},
		},
	)

	err := h.engine.Run(context.Background(), portalURL, []roster.Account{maria})
	require.NoError(t, err)

	require.Len(t, h.sender.msgs, 2)
	require.Equal(t, filepath.Join(h.dir, "Maria Silva-123456-05-07-24.pdf"), h.sender.msgs[0].Attachment)
	require.Equal(t, filepath.Join(h.dir, "Maria Silva-123456-25-07-24.pdf"), h.sender.msgs[1].Attachment)
	require.Equal(t, []string{"123-456", "123-456"}, h.recorder.recorded)
}

func TestMissingOptionalControlsAreTolerated(t *testing.T) {
	// a form variant without the documento field and submit button still
	// reaches the due-date scan
	h := newHarness(t, browsertest.Page{
		HTML: `<html><body>
			<input id="MATRICULA">
			<table>
				<tr><td class="colVenc">Vencimento</td></tr>
				<tr><td class="colVenc">05/07/24</td></tr>
			</table>
			<select name="DRLMOTIVO1"></select>
			<a id="EPortalLinkImp1">baixar</a>
		</body></html>`,
		Downloads: map[string]string{"EPortalLinkImp1": "fatura.pdf"},
	})

	err := h.engine.Run(context.Background(), portalURL, []roster.Account{maria})
	require.NoError(t, err)
	require.Len(t, h.sender.msgs, 1)
}
