// Package normalize holds the pure string/value transforms applied to raw
// iXBRL attribute text: namespace stripping, numeric value parsing and date
// normalization. None of it touches a database or a parse tree, which keeps
// it trivial to unit test against the boundary cases the source data is
// known to contain.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Concept strips a namespace prefix: "uk-core:Equity" -> "Equity".
func Concept(raw string) string {
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

// Measure strips a namespace prefix: "iso4217:GBP" -> "GBP".
func Measure(raw string) string {
	return Concept(raw)
}

// IntAttr parses an integer attribute such as decimals or scale. XBRL
// allows the literal value "INF" for decimals, which carries no numeric
// meaning and is reported as absent.
func IntAttr(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.EqualFold(raw, "INF") {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

var nonNumericRunRe = regexp.MustCompile(`[^\d.\-]`)

// NumericValue parses the text content of an ix:nonFraction element plus
// its sign/scale/format attributes into a decimal value.
//
// UK Companies House data always uses comma as a thousands separator,
// regardless of what the format attribute (e.g. ixt:numcommadot) claims, so
// commas are stripped unconditionally rather than treated as a decimal
// point.
func NumericValue(raw string, sign string, scale *int, format string) (decimal.Decimal, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return decimal.Zero, false
	}

	switch text {
	case "-", "—", "–", "~":
		return decimal.Zero, true
	}

	negParens := false
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		negParens = true
		text = strings.TrimSpace(text[1 : len(text)-1])
	}

	text = strings.ReplaceAll(text, ",", "")

	value, err := decimal.NewFromString(text)
	if err != nil {
		cleaned := nonNumericRunRe.ReplaceAllString(text, "")
		if cleaned == "" || cleaned == "-" || cleaned == "." {
			return decimal.Zero, false
		}
		value, err = decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero, false
		}
	}

	if negParens {
		value = value.Abs().Neg()
	}
	if sign == "-" {
		value = value.Abs().Neg()
	}
	if scale != nil && *scale != 0 {
		value = value.Mul(decimal.New(1, int32(*scale)))
	}

	_ = format // accepted but not consulted: commas are always thousands separators
	return value, true
}

// invisibleCharClass lists zero-width/LTR/RTL/BOM characters that leak from
// HTML text extraction and silently break time.Parse: ZWSP, ZWNJ, ZWJ,
// LRM, RLM, BOM, word joiner.
const invisibleCharClass = "​‌‍‎‏\xef\xbb\xbf⁠"

var (
	isoDateRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	invisibleRe  = regexp.MustCompile("[" + invisibleCharClass + "]")
	whitespaceRe = regexp.MustCompile(`\s+`)

	dateLayouts = []string{
		"2 January 2006",
		"2 1 2006",
		"2.1.06",
		"2.1.2006",
		"02/01/2006",
		"2-1-2006",
		"January 2, 2006",
	}
)

// DateToISO normalizes a date string found in a filing to ISO 8601
// (YYYY-MM-DD). It tolerates HTML markup leaking in from escaped iXBRL
// attributes, invisible Unicode characters left over from text extraction,
// and a fixed list of formats observed in Companies House filings. Returns
// the empty string for empty input; an input that failed every known
// format is returned cleaned-but-unparsed so the value is preserved rather
// than silently dropped.
func DateToISO(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if isoDateRe.MatchString(s) {
		return s
	}

	if strings.Contains(s, "<") {
		s = htmlTagRe.ReplaceAllString(s, "")
	}
	s = strings.ReplaceAll(s, "­", "-") // soft hyphen
	s = invisibleRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))

	if s == "" {
		return ""
	}
	if isoDateRe.MatchString(s) {
		return s
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
