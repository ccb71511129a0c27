package datanorm

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Default timestamp layouts, one canonical input format per field.
const (
	DefaultLeadDateLayout        = "2006-01-02"
	DefaultTransactionTimeLayout = "2006-01-02 15:04:05"
	DefaultActivityTimeLayout    = time.RFC3339
)

// TimeLayouts holds the single accepted input layout for each timestamp field.
type TimeLayouts struct {
	LeadCreationDate     string
	TransactionTimestamp string
	ActivityTimestamp    string
}

// DefaultTimeLayouts returns the layouts used when none are configured.
func DefaultTimeLayouts() TimeLayouts {
	return TimeLayouts{
		LeadCreationDate:     DefaultLeadDateLayout,
		TransactionTimestamp: DefaultTransactionTimeLayout,
		ActivityTimestamp:    DefaultActivityTimeLayout,
	}
}

func (l TimeLayouts) withDefaults() TimeLayouts {
	d := DefaultTimeLayouts()
	if l.LeadCreationDate == "" {
		l.LeadCreationDate = d.LeadCreationDate
	}
	if l.TransactionTimestamp == "" {
		l.TransactionTimestamp = d.TransactionTimestamp
	}
	if l.ActivityTimestamp == "" {
		l.ActivityTimestamp = d.ActivityTimestamp
	}
	return l
}

// NormalizeEmail lower-cases and trims an email, dropping wrapping quotes
// and angle brackets left over from exports.
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	email = strings.Trim(email, "\"'<>")
	return strings.TrimSpace(email)
}

// NormalizeStatus case-folds a transaction status.
func NormalizeStatus(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func normalizePhone(raw string) string {
	// Keep only digits and leading +
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
		} else if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseAmount coerces a monetary field. Blank or non-numeric input yields
// an invalid AmountValue that keeps the raw text for the rejection reason.
func ParseAmount(raw string) AmountValue {
	v := strings.TrimSpace(raw)
	if v == "" {
		return AmountValue{Raw: v}
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return AmountValue{Raw: v}
	}
	return AmountValue{Raw: v, Value: d, Valid: true}
}

// ParseCount coerces an integer count field. Integral decimals such as "3.0"
// are accepted since spreadsheet exports often write counts that way.
func ParseCount(raw string, present bool) CountValue {
	v := strings.TrimSpace(raw)
	if !present || v == "" {
		return CountValue{Raw: v}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return CountValue{Raw: v, Value: n, Present: true, Valid: true}
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsInteger() {
		return CountValue{Raw: v, Present: true}
	}
	return CountValue{Raw: v, Value: d.IntPart(), Present: true, Valid: true}
}

// ParseTimestamp parses raw with the given layout. Unparsable or blank input
// is nil, not an error and not a zero time.
func ParseTimestamp(raw, layout string) *time.Time {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// newNameCaser returns a title caser for person names. A cases.Caser keeps
// state between calls, so each Normalizer owns its own.
func newNameCaser() cases.Caser {
	return cases.Title(language.English)
}

func normalizeName(c cases.Caser, raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return ""
	}
	return c.String(s)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
