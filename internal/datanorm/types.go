package datanorm

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies one of the three input datasets.
type Source string

const (
	SourceLeads        Source = "leads"
	SourceTransactions Source = "transactions"
	SourceActivity     Source = "activity"
)

// Sources lists every input in the order the pipeline processes them.
var Sources = []Source{SourceLeads, SourceTransactions, SourceActivity}

// Transaction statuses that get their own pivot columns in the customer table.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusRefunded  = "refunded"
)

// KnownStatuses is the fixed, ordered set of statuses that get their own
// output columns. Any other status is accepted and totalled as "other".
var KnownStatuses = []string{StatusCompleted, StatusPending, StatusRefunded}

func isKnownStatus(status string) bool {
	for _, s := range KnownStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// RawRecord is one structurally valid input record before normalization.
// A field that is absent from Fields is null.
type RawRecord struct {
	Seq    int
	Line   int
	Fields map[string]string
}

// Get returns a field value and whether it was present.
func (r RawRecord) Get(field string) (string, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// AmountValue is the typed result of numeric coercion of a monetary field.
type AmountValue struct {
	Raw   string
	Value decimal.Decimal
	Valid bool
}

// CountValue is the typed result of integer coercion of a count field.
type CountValue struct {
	Raw     string
	Value   int64
	Present bool
	Valid   bool
}

// LeadRecord is a normalized lead row.
type LeadRecord struct {
	Seq          int
	Email        string
	Name         string
	Phone        string
	Company      string
	LeadSource   string
	CreationDate *time.Time

	// Columns that don't map to a canonical field
	Extra map[string]string
}

// TransactionRecord is a normalized transaction row.
type TransactionRecord struct {
	Seq           int
	TransactionID string
	UserUUID      string
	Status        string // case-folded
	RawStatus     string // as read, kept for the audit log
	Amount        AmountValue
	Timestamp     *time.Time
}

// WebActivityRecord is a normalized web engagement row.
type WebActivityRecord struct {
	Seq        int
	UserUUID   string
	PageViews  CountValue
	ActivityAt *time.Time
}

// RejectionEntry is one audit-log line for a record that failed a business rule.
// For transactions Status is the status as read; for web activity, which has
// no status, it holds the user_uuid. Value is the offending raw text.
type RejectionEntry struct {
	Source   Source
	Seq      int
	RecordID string
	Status   string
	Value    string
	Reason   string
}

// StatusTotal is the count and exact amount sum for one transaction status.
type StatusTotal struct {
	Count  int64
	Amount decimal.Decimal
}

// TransactionAggregate is one row per user_uuid of accepted transactions.
type TransactionAggregate struct {
	UserUUID       string
	ByStatus       map[string]StatusTotal
	TransactionIDs []string
}

// Total returns the totals for a status, zero when the user has none.
func (a TransactionAggregate) Total(status string) StatusTotal {
	if t, ok := a.ByStatus[status]; ok {
		return t
	}
	return StatusTotal{Amount: decimal.Zero}
}

// ActivityAggregate is one row per user_uuid of accepted web activity.
// LastActivityAt is nil when none of the user's records had a valid timestamp.
type ActivityAggregate struct {
	UserUUID       string
	TotalPageViews int64
	LastActivityAt *time.Time
}

// CustomerRecord is one row of the consolidated output.
type CustomerRecord struct {
	Email        string
	Name         string
	Phone        string
	Company      string
	LeadSource   string
	CreationDate *time.Time

	UserUUID         string
	IdentityBridge   string
	IdentityVerified bool

	Transactions   map[string]StatusTotal
	TransactionIDs string

	TotalPageViews int64
	LastActivityAt *time.Time
}

// Total returns the transaction totals for a status; statuses the customer
// never had report 0/0.
func (c CustomerRecord) Total(status string) StatusTotal {
	if t, ok := c.Transactions[status]; ok {
		return t
	}
	return StatusTotal{Amount: decimal.Zero}
}

// OtherTotal sums every status outside KnownStatuses.
func (c CustomerRecord) OtherTotal() StatusTotal {
	total := StatusTotal{Amount: decimal.Zero}
	for status, t := range c.Transactions {
		if isKnownStatus(status) {
			continue
		}
		total.Count += t.Count
		total.Amount = total.Amount.Add(t.Amount)
	}
	return total
}

// SourceCounts tracks the outcome of one source through the pipeline.
type SourceCounts struct {
	Read         int
	Accepted     int
	Rejected     int
	ParseSkipped int
	Deduplicated int
}
