package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"aguabot/lib/timezone"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "controle", "matricula_processada.yaml"))
}

func TestRecordAndProcessedIDs(t *testing.T) {
	l := newTestLedger(t)
	now := timezone.Now()
	l.Now = func() time.Time { return now }

	require.NoError(t, l.Record("123-456", "Maria Silva", "11122233344"))
	require.NoError(t, l.Record("789-012", "João Souza", "55566677788"))

	ids := l.ProcessedIDs()
	require.Contains(t, ids, "123-456")
	require.Contains(t, ids, "789-012")
	require.Len(t, ids, 2)

	entries, err := l.Entries()
	require.NoError(t, err)
	want := []Entry{
		{Matricula: "123-456", Cliente: "Maria Silva", Documento: "11122233344", Execucao: now},
		{Matricula: "789-012", Cliente: "João Souza", Documento: "55566677788", Execucao: now},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("ledger entries mismatch (-want +got):\n%s", diff)
	}
}

func TestEnsureCurrentCycleCreatesMissingLedger(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.EnsureCurrentCycle())

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRolloverOnNewMonth(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Record("123-456", "Maria Silva", "11122233344"))

	// age the file into the previous month
	prev := timezone.Now().AddDate(0, -1, 0)
	require.NoError(t, os.Chtimes(l.Path, prev, prev))

	require.NoError(t, l.EnsureCurrentCycle())
	require.Empty(t, l.ProcessedIDs())
}

func TestRolloverAcrossYearBoundary(t *testing.T) {
	// A December ledger read in January: the month number is *larger* but
	// the cycle is older; the (year, month) comparison must still reset it.
	real := timezone.Now()
	january := time.Date(real.Year()+1, 1, 15, 10, 0, 0, 0, timezone.Location)
	december := time.Date(real.Year(), 12, 20, 10, 0, 0, 0, timezone.Location)

	l := newTestLedger(t)
	l.Now = func() time.Time { return january }
	require.NoError(t, l.write(document{Processada: []Entry{
		{Matricula: "123-456", Cliente: "Maria Silva", Documento: "11122233344", Execucao: december},
	}}))
	require.NoError(t, os.Chtimes(l.Path, december, december))

	require.NoError(t, l.EnsureCurrentCycle())
	require.Empty(t, l.ProcessedIDs())
}

func TestSameCycleLeavesLedgerUntouched(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Record("123-456", "Maria Silva", "11122233344"))

	now := timezone.Now()
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 8, 0, 0, 0, timezone.Location)
	require.NoError(t, os.Chtimes(l.Path, startOfMonth, startOfMonth))

	require.NoError(t, l.EnsureCurrentCycle())
	require.Contains(t, l.ProcessedIDs(), "123-456")
}

func TestCorruptLedgerDegradesToEmpty(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.Path), 0o755))
	require.NoError(t, os.WriteFile(l.Path, []byte("processada: [not: valid: yaml"), 0o644))

	require.Empty(t, l.ProcessedIDs())
}

func TestRecordFailsOnCorruptLedger(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.Path), 0o755))
	require.NoError(t, os.WriteFile(l.Path, []byte("processada: [not: valid: yaml"), 0o644))

	err := l.Record("123-456", "Maria Silva", "11122233344")
	require.Error(t, err)
}
