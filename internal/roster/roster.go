// Package roster reads the account spreadsheet the utility's operators
// maintain by hand: AGUA.xlsx, one row per account, columns
// [cliente, matricula, documento, email] with a title row on top.
package roster

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const DefaultPath = "AGUA.xlsx"

// Account is one roster entry. Immutable once loaded; only the matricula
// ever gets persisted (through the ledger).
type Account struct {
	Cliente   string
	Matricula string
	Documento string
	Email     string
}

// Load reads the first sheet, drops the header row, silently skips rows
// with any blank cell and filters out accounts whose matricula is in
// exclude. A missing or unreadable spreadsheet is fatal for the run, there
// is nothing to process without it.
func Load(path string, exclude map[string]struct{}) ([]Account, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster %s: %w", path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster sheet %q: %w", sheet, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	var accounts []Account
	for _, row := range rows[1:] {
		acct, ok := parseRow(row)
		if !ok {
			continue
		}
		if _, done := exclude[acct.Matricula]; done {
			continue
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func parseRow(row []string) (Account, bool) {
	if len(row) < 4 {
		return Account{}, false
	}
	acct := Account{
		Cliente:   strings.TrimSpace(row[0]),
		Matricula: strings.TrimSpace(row[1]),
		Documento: strings.TrimSpace(row[2]),
		Email:     strings.TrimSpace(row[3]),
	}
	if acct.Cliente == "" || acct.Matricula == "" || acct.Documento == "" || acct.Email == "" {
		return Account{}, false
	}
	return acct, true
}
