package datanorm

import (
	"strings"

	"golang.org/x/text/cases"
)

// leadCanonical lists the lead fields that have dedicated columns; anything
// else ends up in LeadRecord.Extra.
var leadCanonical = map[string]bool{
	FieldEmail:        true,
	FieldName:         true,
	FieldFirstName:    true,
	FieldLastName:     true,
	FieldPhone:        true,
	FieldCompany:      true,
	FieldLeadSource:   true,
	FieldCreationDate: true,
}

// Normalizer applies per-field canonicalization to parsed records. It never
// rejects anything; that is the Validator's job.
type Normalizer struct {
	layouts TimeLayouts
	caser   cases.Caser
}

// NewNormalizer creates a Normalizer. Empty layouts fall back to the defaults.
func NewNormalizer(layouts TimeLayouts) *Normalizer {
	return &Normalizer{
		layouts: layouts.withDefaults(),
		caser:   newNameCaser(),
	}
}

// Leads normalizes parsed lead rows into a new slice.
func (n *Normalizer) Leads(records []RawRecord) []LeadRecord {
	out := make([]LeadRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, n.lead(rec))
	}
	return out
}

func (n *Normalizer) lead(rec RawRecord) LeadRecord {
	lead := LeadRecord{Seq: rec.Seq}

	email, _ := rec.Get(FieldEmail)
	lead.Email = NormalizeEmail(email)

	name, _ := rec.Get(FieldName)
	if strings.TrimSpace(name) == "" {
		first, _ := rec.Get(FieldFirstName)
		last, _ := rec.Get(FieldLastName)
		name = first + " " + last
	}
	lead.Name = normalizeName(n.caser, name)

	phone, _ := rec.Get(FieldPhone)
	lead.Phone = normalizePhone(phone)
	company, _ := rec.Get(FieldCompany)
	lead.Company = strings.TrimSpace(company)
	source, _ := rec.Get(FieldLeadSource)
	lead.LeadSource = strings.ToLower(strings.TrimSpace(source))

	created, _ := rec.Get(FieldCreationDate)
	lead.CreationDate = ParseTimestamp(created, n.layouts.LeadCreationDate)

	for k, v := range rec.Fields {
		if leadCanonical[k] || v == "" {
			continue
		}
		if lead.Extra == nil {
			lead.Extra = make(map[string]string)
		}
		lead.Extra[k] = v
	}
	return lead
}

// Transactions normalizes parsed transaction rows into a new slice.
func (n *Normalizer) Transactions(records []RawRecord) []TransactionRecord {
	out := make([]TransactionRecord, 0, len(records))
	for _, rec := range records {
		id, _ := rec.Get(FieldTransactionID)
		uuid, _ := rec.Get(FieldUserUUID)
		status, _ := rec.Get(FieldStatus)
		amount, _ := rec.Get(FieldAmount)
		ts, _ := rec.Get(FieldTimestamp)

		out = append(out, TransactionRecord{
			Seq:           rec.Seq,
			TransactionID: strings.TrimSpace(id),
			UserUUID:      strings.TrimSpace(uuid),
			Status:        NormalizeStatus(status),
			RawStatus:     strings.TrimSpace(status),
			Amount:        ParseAmount(amount),
			Timestamp:     ParseTimestamp(ts, n.layouts.TransactionTimestamp),
		})
	}
	return out
}

// Activity normalizes parsed web activity rows into a new slice.
func (n *Normalizer) Activity(records []RawRecord) []WebActivityRecord {
	out := make([]WebActivityRecord, 0, len(records))
	for _, rec := range records {
		uuid, _ := rec.Get(FieldUserUUID)
		views, present := rec.Get(FieldPageViews)
		ts, _ := rec.Get(FieldActivityAt)

		out = append(out, WebActivityRecord{
			Seq:        rec.Seq,
			UserUUID:   strings.TrimSpace(uuid),
			PageViews:  ParseCount(views, present),
			ActivityAt: ParseTimestamp(ts, n.layouts.ActivityTimestamp),
		})
	}
	return out
}
