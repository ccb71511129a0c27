package datanorm

// DeduplicateLeads keeps one lead per normalized email: the one with the
// latest CreationDate. A dated lead beats an undated one; equal dates (or
// two undated leads) keep the one that came first in the input.
//
// Output order is the order in which each email first appeared. Leads with
// an empty email have no business key and pass through untouched.
func DeduplicateLeads(rc *RunContext, leads []LeadRecord) []LeadRecord {
	type slot struct {
		pos  int
		lead LeadRecord
	}

	out := make([]LeadRecord, 0, len(leads))
	byEmail := make(map[string]*slot, len(leads))
	dropped := 0

	for _, lead := range leads {
		if lead.Email == "" {
			out = append(out, lead)
			continue
		}

		s, ok := byEmail[lead.Email]
		if !ok {
			byEmail[lead.Email] = &slot{pos: len(out), lead: lead}
			out = append(out, lead)
			continue
		}

		dropped++
		if newerLead(lead, s.lead) {
			s.lead = lead
			out[s.pos] = lead
		}
	}

	rc.Deduplicated(SourceLeads, dropped)
	return out
}

// newerLead reports whether candidate should replace current. Only a strictly
// later date replaces; callers see leads in input order, so ties keep the first.
func newerLead(candidate, current LeadRecord) bool {
	switch {
	case candidate.CreationDate == nil:
		return false
	case current.CreationDate == nil:
		return true
	default:
		return candidate.CreationDate.After(*current.CreationDate)
	}
}
