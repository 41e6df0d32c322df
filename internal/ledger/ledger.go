// Package ledger is the persistent record of accounts that already received
// a bill in the current billing cycle (one calendar month). It is the only
// state shared across a whole run and the thing standing between the system
// and duplicate sends.
package ledger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"aguabot/lib/timezone"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "controle/matricula_processada.yaml"

type Entry struct {
	Matricula string    `yaml:"matricula"`
	Cliente   string    `yaml:"cliente"`
	Documento string    `yaml:"documento"`
	Execucao  time.Time `yaml:"execucao"`
}

type document struct {
	Processada []Entry `yaml:"processada"`
}

type Ledger struct {
	Path string
	// Now is swappable for tests, defaults to timezone.Now.
	Now func() time.Time
}

func New(path string) *Ledger {
	return &Ledger{Path: path, Now: timezone.Now}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return timezone.Now()
}

// EnsureCurrentCycle resets the ledger to empty when its file was last
// written in an earlier (year, month) than today, or when it is missing.
//
// The cycle check is chronological on the (year, month) tuple. The system
// this replaces compared month+year sums, which misorders transitions like
// Dec/2024 -> Jan/2025; nothing reads the old file across that boundary so
// the stricter comparison is safe.
func (l *Ledger) EnsureCurrentCycle() error {
	info, err := os.Stat(l.Path)
	if os.IsNotExist(err) {
		return l.writeEmpty()
	}
	if err != nil {
		return err
	}

	mod := info.ModTime().In(timezone.Location)
	today := l.now()
	stale := mod.Year() < today.Year() ||
		(mod.Year() == today.Year() && mod.Month() < today.Month())
	if stale {
		slog.Info("ledger belongs to an earlier billing cycle, starting a new one",
			"ledger_month", mod.Month(), "ledger_year", mod.Year())
		return l.writeEmpty()
	}
	return nil
}

func (l *Ledger) writeEmpty() error {
	return l.write(document{Processada: []Entry{}})
}

func (l *Ledger) write(doc document) error {
	err := os.MkdirAll(filepath.Dir(l.Path), 0o755)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(l.Path, raw, 0o644)
}

func (l *Ledger) read() (document, error) {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return document{}, err
	}
	var doc document
	err = yaml.Unmarshal(raw, &doc)
	if err != nil {
		return document{}, fmt.Errorf("failed to parse ledger %s: %w", l.Path, err)
	}
	return doc, nil
}

// Record appends an entry for the account and persists immediately. A
// failure here means the account may be processed again in a future run;
// that at-least-once behavior is accepted, the caller only logs it.
func (l *Ledger) Record(matricula, cliente, documento string) error {
	err := l.EnsureCurrentCycle()
	if err != nil {
		return err
	}
	doc, err := l.read()
	if err != nil {
		return err
	}
	doc.Processada = append(doc.Processada, Entry{
		Matricula: matricula,
		Cliente:   cliente,
		Documento: documento,
		Execucao:  l.now(),
	})
	return l.write(doc)
}

// ProcessedIDs returns the matriculas already handled this cycle. Read and
// parse faults degrade to "nothing processed yet" so a corrupt ledger never
// blocks a run; the risk is a duplicate send, not a missed one.
func (l *Ledger) ProcessedIDs() map[string]struct{} {
	err := l.EnsureCurrentCycle()
	if err != nil {
		slog.Error("failed to roll the ledger over", "err", err)
		return map[string]struct{}{}
	}
	doc, err := l.read()
	if err != nil {
		slog.Error("failed to read ledger, treating every account as unprocessed", "err", err)
		return map[string]struct{}{}
	}
	ids := make(map[string]struct{}, len(doc.Processada))
	for _, e := range doc.Processada {
		ids[e.Matricula] = struct{}{}
	}
	return ids
}

// Entries exposes the parsed ledger, mainly for reporting and tests.
func (l *Ledger) Entries() ([]Entry, error) {
	doc, err := l.read()
	if err != nil {
		return nil, err
	}
	return doc.Processada, nil
}
