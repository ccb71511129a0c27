package datanorm

import (
	"fmt"
	"strings"
)

// Canonical field names shared by the parser and the normalizer.
const (
	FieldEmail         = "email"
	FieldName          = "name"
	FieldFirstName     = "first_name"
	FieldLastName      = "last_name"
	FieldPhone         = "phone"
	FieldCompany       = "company"
	FieldLeadSource    = "lead_source"
	FieldCreationDate  = "creation_date"
	FieldTransactionID = "transaction_id"
	FieldUserUUID      = "user_uuid"
	FieldStatus        = "status"
	FieldAmount        = "amount"
	FieldTimestamp     = "timestamp"
	FieldPageViews     = "page_views"
	FieldActivityAt    = "activity_timestamp"
)

// columnAliases maps cleaned header names to canonical fields, per source.
// When multiple raw headers mean the same thing, they all map here.
var columnAliases = map[Source]map[string]string{
	SourceLeads: {
		"email":         FieldEmail,
		"email_address": FieldEmail,
		"emailaddress":  FieldEmail,
		"e-mail":        FieldEmail,
		"mail":          FieldEmail,

		"name":      FieldName,
		"full_name": FieldName,
		"fullname":  FieldName,

		"first_name": FieldFirstName,
		"firstname":  FieldFirstName,
		"fname":      FieldFirstName,
		"last_name":  FieldLastName,
		"lastname":   FieldLastName,
		"lname":      FieldLastName,

		"phone":        FieldPhone,
		"phone_number": FieldPhone,
		"mobile":       FieldPhone,

		"company":      FieldCompany,
		"company_name": FieldCompany,
		"organization": FieldCompany,

		"source":      FieldLeadSource,
		"lead_source": FieldLeadSource,
		"channel":     FieldLeadSource,

		"creation_date": FieldCreationDate,
		"created_at":    FieldCreationDate,
		"created":       FieldCreationDate,
		"signup_date":   FieldCreationDate,
	},
	SourceTransactions: {
		"transaction_id": FieldTransactionID,
		"txn_id":         FieldTransactionID,
		"tx_id":          FieldTransactionID,
		"id":             FieldTransactionID,

		"user_uuid": FieldUserUUID,
		"user_id":   FieldUserUUID,
		"uuid":      FieldUserUUID,

		"status": FieldStatus,
		"state":  FieldStatus,
		"amount": FieldAmount,
		"value":  FieldAmount,
		"total":  FieldAmount,

		"timestamp":      FieldTimestamp,
		"created_at":     FieldTimestamp,
		"transacted_at":  FieldTimestamp,
		"transaction_ts": FieldTimestamp,
	},
	SourceActivity: {
		"user_uuid": FieldUserUUID,
		"user_id":   FieldUserUUID,
		"uuid":      FieldUserUUID,

		"page_views": FieldPageViews,
		"pageviews":  FieldPageViews,
		"views":      FieldPageViews,

		"activity_timestamp": FieldActivityAt,
		"timestamp":          FieldActivityAt,
		"last_seen":          FieldActivityAt,
	},
}

// requiredColumns must be present in a delimited source's header.
var requiredColumns = map[Source][]string{
	SourceLeads:        {FieldEmail},
	SourceTransactions: {FieldTransactionID, FieldAmount},
}

// CanonicalColumn cleans a raw header or JSON key and resolves it through the
// source's alias table. Unknown names come back cleaned but otherwise unchanged.
func CanonicalColumn(src Source, raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, "\"'")
	cleaned = strings.Join(strings.Fields(cleaned), "_")

	if field, ok := columnAliases[src][cleaned]; ok {
		return field
	}
	return cleaned
}

// MapColumns resolves a header row to canonical column names and checks the
// source's required columns are present.
func MapColumns(src Source, header []string) ([]string, error) {
	mapped := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		mapped[i] = CanonicalColumn(src, h)
		seen[mapped[i]] = true
	}

	var missing []string
	for _, col := range requiredColumns[src] {
		if !seen[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s header %v lacks %s",
			ErrMissingColumns, src, header, strings.Join(missing, ", "))
	}
	return mapped, nil
}
