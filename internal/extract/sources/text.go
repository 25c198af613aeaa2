// Package sources implements the concrete extractors. The IRS exempt
// organization master file is the base. ProPublica, Charity Navigator and
// the NODC bulk files are joined on EIN. The VA facilities API, the VA
// accredited VSO listing and the National Resource Directory carry no EIN
// and are appended.
package sources

import (
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"
)

// titler title-cases free text the way the directory presents names and
// cities. A cases.Caser is stateful, so each extractor run owns one.
type titler struct {
	c cases.Caser
}

func newTitler() *titler {
	return &titler{c: cases.Title(language.English)}
}

func (t *titler) String(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return t.c.String(s)
}

// latin1 decodes an ISO-8859-1 stream to UTF-8.
func latin1(r io.Reader) io.Reader {
	return charmap.ISO8859_1.NewDecoder().Reader(r)
}

// nonEmpty returns s trimmed, or nil when nothing is left, so coercion sees
// an explicit null.
func nonEmpty(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
