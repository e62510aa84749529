package ledger

import (
	"html"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxRemarksLen = 500

// normalizeField trims, collapses internal whitespace, and NFC-normalizes a
// free-text identity field. Two records differing only in spacing or Unicode
// composition are the same record.
func normalizeField(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// normalizeUOM additionally upper-cases: "kg" and "KG" are one unit.
func normalizeUOM(s string) string {
	return strings.ToUpper(normalizeField(s))
}

// sanitizeRemarks escapes HTML and caps length; remarks end up verbatim in
// statutory report exports.
func sanitizeRemarks(s string) string {
	s = html.EscapeString(strings.TrimSpace(s))
	runes := []rune(s)
	if len(runes) > maxRemarksLen {
		return string(runes[:maxRemarksLen])
	}
	return s
}
