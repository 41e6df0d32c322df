// Package report prints the per-account outcome record shown to the
// operator at the end of each account's processing.
package report

import (
	"io"
	"os"
	"time"

	"aguabot/lib/timezone"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Record struct {
	Cliente    string
	Matricula  string
	Documento  string
	Vencimento string
	Email      string
	Status     string
	When       time.Time
}

// Reporter is an interface so the workflow engine can be tested against a
// recording fake.
type Reporter interface {
	Publish(Record)
}

// TableReporter renders one rounded table per record, in the reading order
// the operators are used to from the previous generation of this tool.
type TableReporter struct {
	Out io.Writer
}

func NewTableReporter() TableReporter {
	return TableReporter{Out: os.Stdout}
}

func (r TableReporter) Publish(rec Record) {
	when := rec.When
	if when.IsZero() {
		when = timezone.Now()
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(r.Out)
	t.SetTitle("Emissão de segunda via de conta")
	t.AppendRows([]table.Row{
		{"Cliente", rec.Cliente},
		{"Matrícula", rec.Matricula},
		{"Documento", rec.Documento},
		{"Vencimento", rec.Vencimento},
		{"E-mail", rec.Email},
		{"Data", when.Format("02/01/2006 15:04:05")},
		{"Status", rec.Status},
	})
	t.Render()
}
