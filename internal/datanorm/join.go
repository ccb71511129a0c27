package datanorm

import (
	"fmt"
	"strings"
)

// Join merges deduplicated leads with both aggregates into one row per
// identity present in any of the three tables. Every lead gets a row, in
// dedup order; every user_uuid no lead claimed gets a row after them, in
// candidate order. Absent transaction totals read as 0/0, absent page views
// as 0, and an absent activity timestamp stays nil.
func Join(leads []LeadRecord, txns []TransactionAggregate, activity []ActivityAggregate, resolver IdentityResolver) ([]CustomerRecord, error) {
	if resolver == nil {
		resolver = PositionalBridge{}
	}

	txnByUUID := make(map[string]TransactionAggregate, len(txns))
	for _, t := range txns {
		txnByUUID[t.UserUUID] = t
	}
	actByUUID := make(map[string]ActivityAggregate, len(activity))
	for _, a := range activity {
		actByUUID[a.UserUUID] = a
	}

	candidates := BridgeCandidates(txns, activity)
	mapping, err := resolver.Resolve(leads, candidates)
	if err != nil {
		return nil, fmt.Errorf("resolve identities with %s bridge: %w", resolver.Name(), err)
	}

	out := make([]CustomerRecord, 0, len(leads)+len(candidates))
	claimedBy := make(map[string]int, len(mapping))

	for _, lead := range leads {
		row := CustomerRecord{
			Email:        lead.Email,
			Name:         lead.Name,
			Phone:        lead.Phone,
			Company:      lead.Company,
			LeadSource:   lead.LeadSource,
			CreationDate: copyTime(lead.CreationDate),
		}

		if uuid := mapping[lead.Seq]; uuid != "" {
			if prev, ok := claimedBy[uuid]; ok {
				return nil, fmt.Errorf("%w: %s claimed by lead records %d and %d",
					ErrIdentityConflict, uuid, prev, lead.Seq)
			}
			claimedBy[uuid] = lead.Seq
			row.UserUUID = uuid
			row.IdentityBridge = resolver.Name()
			row.IdentityVerified = resolver.Verified()
			fillAggregates(&row, txnByUUID, actByUUID)
		}
		out = append(out, row)
	}

	for _, uuid := range candidates {
		if _, ok := claimedBy[uuid]; ok {
			continue
		}
		row := CustomerRecord{UserUUID: uuid}
		fillAggregates(&row, txnByUUID, actByUUID)
		out = append(out, row)
	}

	return out, nil
}

func fillAggregates(row *CustomerRecord, txns map[string]TransactionAggregate, activity map[string]ActivityAggregate) {
	if t, ok := txns[row.UserUUID]; ok {
		row.Transactions = make(map[string]StatusTotal, len(t.ByStatus))
		for status, total := range t.ByStatus {
			row.Transactions[status] = total
		}
		row.TransactionIDs = strings.Join(t.TransactionIDs, ",")
	}
	if a, ok := activity[row.UserUUID]; ok {
		row.TotalPageViews = a.TotalPageViews
		row.LastActivityAt = copyTime(a.LastActivityAt)
	}
}
