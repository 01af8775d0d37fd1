package extraction

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// UnknownMerchant is used when no merchant name can be recovered.
	UnknownMerchant = "Unknown"

	maxMerchantLen = 100
	maxAddressLen  = 200
	maxItems       = 20
	merchantLines  = 5
	minPhoneDigits = 10
)

var (
	nonWord         = regexp.MustCompile(`[^\p{L}\p{N}\p{M}_\s]`)
	trailingNumeric = regexp.MustCompile(`\s*\d+[.,]?\d*\s*$`)
)

// Entities are the structured fields recovered from receipt text.
type Entities struct {
	MerchantName string   `json:"merchant_name"`
	ReceiptDate  string   `json:"receipt_date"`
	DateFound    bool     `json:"date_found"`
	TotalAmount  float64  `json:"total_amount"`
	Phone        string   `json:"phone"`
	Address      string   `json:"address"`
	Items        []string `json:"items"`
	Tax          float64  `json:"tax"`
}

// Clock provides the processing date used when a receipt has none.
type Clock func() time.Time

// Extractor pulls entities out of OCR text using a pattern Library.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	patterns *Library
	now      Clock
}

// NewExtractor creates an Extractor. A nil library selects DefaultPatterns
// and a nil clock selects time.Now.
func NewExtractor(patterns *Library, now Clock) *Extractor {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	if now == nil {
		now = time.Now
	}
	return &Extractor{patterns: patterns, now: now}
}

// Extract runs every field extractor independently over text. Missing fields
// fall back to defaults; it never fails.
func (e *Extractor) Extract(text string) Entities {
	text = NormalizeText(text)

	date, found := e.date(text)
	return Entities{
		MerchantName: e.merchant(text),
		ReceiptDate:  date,
		DateFound:    found,
		TotalAmount:  e.total(text),
		Phone:        e.phone(text),
		Address:      e.address(text),
		Items:        e.items(text),
		Tax:          e.tax(text),
	}
}

func (e *Extractor) merchant(text string) string {
	if text == "" {
		return UnknownMerchant
	}
	for i := range e.patterns.Merchant {
		p := &e.patterns.Merchant[i]
		if m := p.re.FindStringSubmatch(text); m != nil {
			return e.cleanMerchant(p.submatch(m))
		}
	}

	lines := strings.Split(text, "\n")
	if len(lines) > merchantLines {
		lines = lines[:merchantLines]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) > 5 && countUpper(line) >= 3 {
			return e.cleanMerchant(line)
		}
	}
	return UnknownMerchant
}

func (e *Extractor) cleanMerchant(name string) string {
	name = e.patterns.stripIgnored(name)
	name = nonWord.ReplaceAllString(name, " ")
	name = collapseSpaces(name)
	if name == "" {
		return UnknownMerchant
	}
	return truncateRunes(name, maxMerchantLen)
}

func (e *Extractor) date(text string) (string, bool) {
	for i := range e.patterns.Date {
		p := &e.patterns.Date[i]
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if t, ok := ParseDate(p.submatch(m)); ok {
				return t.Format(ISODate), true
			}
		}
	}
	return e.now().Format(ISODate), false
}

// total returns the largest positive amount matched by any amount pattern.
// A stray large number anywhere in the text wins over the labeled total.
func (e *Extractor) total(text string) float64 {
	var best float64
	for i := range e.patterns.Amount {
		p := &e.patterns.Amount[i]
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if amount := ParseAmount(p.submatch(m)); amount > best {
				best = amount
			}
		}
	}
	return best
}

func (e *Extractor) phone(text string) string {
	for i := range e.patterns.Phone {
		p := &e.patterns.Phone[i]
		if m := p.re.FindStringSubmatch(text); m != nil {
			cleaned := CleanPhone(p.submatch(m))
			if countDigits(cleaned) >= minPhoneDigits {
				return cleaned
			}
		}
	}
	return ""
}

func (e *Extractor) address(text string) string {
	for i := range e.patterns.Address {
		p := &e.patterns.Address[i]
		if m := p.re.FindStringSubmatch(text); m != nil {
			addr := strings.TrimSpace(p.submatch(m))
			if utf8.RuneCountInString(addr) > 10 {
				return truncateRunes(addr, maxAddressLen)
			}
		}
	}
	return ""
}

func (e *Extractor) items(text string) []string {
	seen := make(map[string]struct{})
	items := make([]string, 0)
	for i := range e.patterns.Items {
		p := &e.patterns.Items[i]
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			name := cleanItem(p.submatch(m))
			if utf8.RuneCountInString(name) <= 2 {
				continue
			}
			key := strings.ToLower(name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			items = append(items, name)
			if len(items) == maxItems {
				return items
			}
		}
	}
	return items
}

func cleanItem(name string) string {
	name = trailingNumeric.ReplaceAllString(strings.TrimSpace(name), "")
	name = nonWord.ReplaceAllString(name, " ")
	return collapseSpaces(name)
}

func (e *Extractor) tax(text string) float64 {
	for i := range e.patterns.Tax {
		p := &e.patterns.Tax[i]
		if m := p.re.FindStringSubmatch(text); m != nil {
			return ParseAmount(p.submatch(m))
		}
	}
	return 0
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
