package datanorm

import (
	"fmt"
	"strconv"
)

// Rejection reasons. Reasons that quote a value embed the raw input text.
const (
	ReasonInvalidAmount     = "Invalid amount"
	ReasonMissingUserUUID   = "Missing user_uuid"
	reasonNonPositiveAmount = "Non-positive amount (%s)"
	reasonInvalidPageViews  = "Invalid page_views (%s)"
	reasonNegativePageViews = "Negative page_views (%s)"
)

// Rule is one business predicate. It returns a non-empty reason when the
// record fails.
type Rule[T any] func(T) string

// TransactionRules are evaluated in this order; the first failure wins.
var TransactionRules = []Rule[TransactionRecord]{
	func(t TransactionRecord) string {
		if !t.Amount.Valid {
			return ReasonInvalidAmount
		}
		return ""
	},
	func(t TransactionRecord) string {
		if !t.Amount.Value.IsPositive() {
			return fmt.Sprintf(reasonNonPositiveAmount, t.Amount.Raw)
		}
		return ""
	},
	func(t TransactionRecord) string {
		if t.UserUUID == "" {
			return ReasonMissingUserUUID
		}
		return ""
	},
}

// ActivityRules are evaluated in this order; the first failure wins.
var ActivityRules = []Rule[WebActivityRecord]{
	func(a WebActivityRecord) string {
		if a.UserUUID == "" {
			return ReasonMissingUserUUID
		}
		return ""
	},
	func(a WebActivityRecord) string {
		if a.PageViews.Present && !a.PageViews.Valid {
			return fmt.Sprintf(reasonInvalidPageViews, a.PageViews.Raw)
		}
		return ""
	},
	func(a WebActivityRecord) string {
		if a.PageViews.Valid && a.PageViews.Value < 0 {
			return fmt.Sprintf(reasonNegativePageViews, a.PageViews.Raw)
		}
		return ""
	},
}

func firstFailure[T any](rules []Rule[T], rec T) string {
	for _, rule := range rules {
		if reason := rule(rec); reason != "" {
			return reason
		}
	}
	return ""
}

// ValidateTransactions partitions transactions into the accepted slice it
// returns and rejection entries appended to rc.
func ValidateTransactions(rc *RunContext, records []TransactionRecord) []TransactionRecord {
	accepted := make([]TransactionRecord, 0, len(records))
	for _, t := range records {
		if reason := firstFailure(TransactionRules, t); reason != "" {
			rc.Reject(RejectionEntry{
				Source:   SourceTransactions,
				Seq:      t.Seq,
				RecordID: t.TransactionID,
				Status:   t.RawStatus,
				Value:    t.Amount.Raw,
				Reason:   reason,
			})
			continue
		}
		accepted = append(accepted, t)
	}
	rc.Accept(SourceTransactions, len(accepted))
	return accepted
}

// ValidateActivity partitions web activity the same way.
func ValidateActivity(rc *RunContext, records []WebActivityRecord) []WebActivityRecord {
	accepted := make([]WebActivityRecord, 0, len(records))
	for _, a := range records {
		if reason := firstFailure(ActivityRules, a); reason != "" {
			rc.Reject(RejectionEntry{
				Source:   SourceActivity,
				Seq:      a.Seq,
				RecordID: "#" + strconv.Itoa(a.Seq),
				Status:   a.UserUUID,
				Value:    a.PageViews.Raw,
				Reason:   reason,
			})
			continue
		}
		accepted = append(accepted, a)
	}
	rc.Accept(SourceActivity, len(accepted))
	return accepted
}

// ValidateLeads accepts every lead. Leads are the identity anchor, so a lead
// with partial data still goes on to deduplication.
func ValidateLeads(rc *RunContext, records []LeadRecord) []LeadRecord {
	accepted := make([]LeadRecord, len(records))
	copy(accepted, records)
	rc.Accept(SourceLeads, len(accepted))
	return accepted
}
