// Package report prints scan findings for human review.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/systmms/secretsweep/internal/scan"
)

// DefaultLimit is how many findings are listed before the rest are elided.
const DefaultLimit = 20

// Reporter writes a scan result. Elision only affects what is printed; the
// result itself is not modified.
type Reporter struct {
	Out   io.Writer
	Limit int
}

// New returns a Reporter with the default limit.
func New(out io.Writer) *Reporter {
	return &Reporter{Out: out, Limit: DefaultLimit}
}

// Print writes the findings list, the fix count and, for dry runs with
// findings, the hint to rerun with --fix.
func (r *Reporter) Print(res *scan.Result, fix bool) {
	limit := r.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	fmt.Fprintf(r.Out, "\nFound %d messages with secrets:\n", len(res.Findings))
	for i, f := range res.Findings {
		if i == limit {
			break
		}
		if len(f.Masked) > 0 {
			fmt.Fprintf(r.Out, "  ID %d: %s\n", f.MessageID, strings.Join(f.Masked, ", "))
		} else {
			fmt.Fprintf(r.Out, "  ID %d: %s...\n", f.MessageID, Preview(f.Preview, scan.PreviewLength))
		}
	}
	if n := len(res.Findings) - limit; n > 0 {
		fmt.Fprintf(r.Out, "  ... and %d more\n", n)
	}

	if fix && res.Fixed > 0 {
		fmt.Fprintf(r.Out, "\nFixed %d messages\n", res.Fixed)
	}
	if len(res.Findings) > 0 && !fix {
		fmt.Fprintln(r.Out, "\nRun with --fix to redact these secrets")
	}
}

// Preview returns the first n characters of s on a single line.
func Preview(s string, n int) string {
	s = scan.Preview(s, n)
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(s)
}
