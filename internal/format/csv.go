package format

import (
	"bufio"
	"io"
	"strings"

	"cashbook/internal/core"
)

// CSVHeader is the first line of every export.
const CSVHeader = "Date,Type,Amount,Category,Description"

// WriteCSV writes one row per transaction in the given order. The description
// is always quoted with embedded quotes doubled; the other columns never
// contain separators.
func WriteCSV(w io.Writer, txs []core.Transaction) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CSVHeader + "\n"); err != nil {
		return err
	}
	for _, t := range txs {
		var b strings.Builder
		b.WriteString(t.Date.UTC().Format(TimestampLayout))
		b.WriteByte(',')
		b.WriteString(string(t.Type))
		b.WriteByte(',')
		b.WriteString(t.Amount.String())
		b.WriteByte(',')
		b.WriteString(string(t.Category.Normalize()))
		b.WriteString(",\"")
		b.WriteString(strings.ReplaceAll(t.Description, `"`, `""`))
		b.WriteString("\"\n")
		if _, err := bw.WriteString(b.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
