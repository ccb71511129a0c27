package datanorm

import "github.com/shopspring/decimal"

// AggregateTransactions reduces accepted transactions to one row per
// user_uuid, with per-status count and sum and the contributing transaction
// ids in input order. Rows come out in first-encounter order of user_uuid.
func AggregateTransactions(records []TransactionRecord) []TransactionAggregate {
	var out []TransactionAggregate
	index := make(map[string]int)

	for _, t := range records {
		i, ok := index[t.UserUUID]
		if !ok {
			i = len(out)
			index[t.UserUUID] = i
			out = append(out, TransactionAggregate{
				UserUUID: t.UserUUID,
				ByStatus: make(map[string]StatusTotal),
			})
		}

		agg := &out[i]
		total, ok := agg.ByStatus[t.Status]
		if !ok {
			total.Amount = decimal.Zero
		}
		total.Count++
		total.Amount = total.Amount.Add(t.Amount.Value)
		agg.ByStatus[t.Status] = total
		agg.TransactionIDs = append(agg.TransactionIDs, t.TransactionID)
	}
	return out
}

// AggregateActivity reduces accepted web activity to one row per user_uuid:
// total page views and the latest valid timestamp. A user with no valid
// timestamp keeps a nil LastActivityAt.
func AggregateActivity(records []WebActivityRecord) []ActivityAggregate {
	var out []ActivityAggregate
	index := make(map[string]int)

	for _, a := range records {
		i, ok := index[a.UserUUID]
		if !ok {
			i = len(out)
			index[a.UserUUID] = i
			out = append(out, ActivityAggregate{UserUUID: a.UserUUID})
		}

		agg := &out[i]
		if a.PageViews.Valid {
			agg.TotalPageViews += a.PageViews.Value
		}
		if a.ActivityAt != nil && (agg.LastActivityAt == nil || a.ActivityAt.After(*agg.LastActivityAt)) {
			t := *a.ActivityAt
			agg.LastActivityAt = &t
		}
	}
	return out
}
