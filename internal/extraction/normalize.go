package extraction

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// AmountStyle selects the digit grouping used by FormatAmount.
type AmountStyle int

const (
	// Vietnamese groups thousands with '.' and uses ',' as the decimal mark.
	Vietnamese AmountStyle = iota
	// International groups thousands with ',' and uses '.' as the decimal mark.
	International
)

// ISODate is the canonical layout for receipt dates.
const ISODate = "2006-01-02"

var currencyMarkers = strings.NewReplacer(
	" ", "",
	"\u00a0", "",
	"VNĐ", "",
	"VND", "",
	"vnđ", "",
	"vnd", "",
	"₫", "",
	"đ", "",
	"Đ", "",
)

// ParseAmount converts a raw amount substring into a number. Separator
// meaning is decided by counting dots and commas:
//
//	1.234.567     -> 1234567
//	1.234.567,89  -> 1234567.89
//	1,234,567.89  -> 1234567.89
//	123,45        -> 123.45
//
// Anything else is read as international format. Unparseable input yields 0.
func ParseAmount(s string) float64 {
	cleaned := currencyMarkers.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0
	}

	dots := strings.Count(cleaned, ".")
	commas := strings.Count(cleaned, ",")

	switch {
	case dots > 1 && commas == 0:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	case dots > 1 && commas == 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case commas > 1:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case commas == 1 && dots == 0:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	default:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	cleaned = strings.Trim(cleaned, ".")
	if !strings.ContainsAny(cleaned, "0123456789") {
		return 0
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// FormatAmount renders x with thousands grouping in the given style. Fractional
// digits are kept only when present, at most two.
func FormatAmount(x float64, style AmountStyle) string {
	d := decimal.NewFromFloat(x).Round(2)
	neg := d.IsNegative()
	d = d.Abs()

	intPart := d.Truncate(0)
	frac := d.Sub(intPart)

	digits := intPart.String()
	var grouped strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			if style == Vietnamese {
				grouped.WriteByte('.')
			} else {
				grouped.WriteByte(',')
			}
		}
		grouped.WriteRune(r)
	}

	out := grouped.String()
	if !frac.IsZero() {
		fracDigits := strings.TrimPrefix(frac.StringFixed(2), "0.")
		if style == Vietnamese {
			out += "," + fracDigits
		} else {
			out += "." + fracDigits
		}
	}
	if neg {
		out = "-" + out
	}
	return out
}

// dateLayouts are tried in order; day-first forms win over month-first.
var dateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2/1/06",
	"2-1-06",
	"2006/1/2",
	"2006-1-2",
	"1/2/2006",
	"1-2-2006",
}

var longFormDate = regexp.MustCompile(`(?i)^(\d{1,2})\s+(?:th[áa]ng|t)\s+(\d{1,2})\s+(\d{4})$`)

// ParseDate reports the first layout in dateLayouts that fully parses s.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if m := longFormDate.FindStringSubmatch(s); m != nil {
		s = m[1] + "/" + m[2] + "/" + m[3]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeDate returns s as YYYY-MM-DD, or s unchanged when no layout fits.
func NormalizeDate(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return s
	}
	return t.Format(ISODate)
}

// CleanPhone keeps digits and '+'. Length is not validated.
func CleanPhone(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '+' {
			return r
		}
		return -1
	}, s)
}

var (
	spaceRuns  = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText tidies OCR output before extraction: NFC composition,
// unified line endings, collapsed horizontal whitespace and at most one
// blank line in a row.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func countUpper(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsUpper(r) {
			n++
		}
	}
	return n
}
