package datanorm

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// IdentityResolver bridges the lead identity (email) to the user_uuid used
// by transactions and web activity. Implementations return a map from lead
// Seq to user_uuid; leads missing from the map stay unmatched.
type IdentityResolver interface {
	Name() string
	// Verified reports whether the mapping is authoritative.
	Verified() bool
	Resolve(leads []LeadRecord, candidates []string) (map[int]string, error)
}

// PositionalBridge pairs the i-th deduplicated lead with the i-th candidate
// user_uuid. It is a placeholder with no real evidence behind the pairing,
// and reports itself as unverified.
type PositionalBridge struct{}

func (PositionalBridge) Name() string   { return "positional" }
func (PositionalBridge) Verified() bool { return false }

func (PositionalBridge) Resolve(leads []LeadRecord, candidates []string) (map[int]string, error) {
	out := make(map[int]string, len(leads))
	for i, lead := range leads {
		if i >= len(candidates) {
			break
		}
		out[lead.Seq] = candidates[i]
	}
	return out, nil
}

// MappingTableBridge resolves identities through an email → user_uuid table
// maintained outside the pipeline.
type MappingTableBridge struct {
	table map[string]string
}

// NewMappingTableBridge builds a bridge from an in-memory table. Emails are
// normalized the same way lead emails are.
func NewMappingTableBridge(table map[string]string) *MappingTableBridge {
	b := &MappingTableBridge{table: make(map[string]string, len(table))}
	for email, uuid := range table {
		b.table[NormalizeEmail(email)] = strings.TrimSpace(uuid)
	}
	return b
}

func (b *MappingTableBridge) Name() string   { return "mapping_table" }
func (b *MappingTableBridge) Verified() bool { return true }

func (b *MappingTableBridge) Resolve(leads []LeadRecord, _ []string) (map[int]string, error) {
	out := make(map[int]string, len(leads))
	for _, lead := range leads {
		if lead.Email == "" {
			continue
		}
		if uuid, ok := b.table[lead.Email]; ok && uuid != "" {
			out[lead.Seq] = uuid
		}
	}
	return out, nil
}

// LoadMappingTable reads a comma-delimited email,user_uuid table with a
// header row. An email listed twice with different user_uuids is an error.
func LoadMappingTable(r io.Reader) (*MappingTableBridge, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return NewMappingTableBridge(nil), nil
		}
		return nil, fmt.Errorf("read mapping header: %w", err)
	}

	emailIdx, uuidIdx := -1, -1
	for i, h := range header {
		if CanonicalColumn(SourceLeads, h) == FieldEmail {
			emailIdx = i
		}
		if CanonicalColumn(SourceActivity, h) == FieldUserUUID {
			uuidIdx = i
		}
	}
	if emailIdx < 0 || uuidIdx < 0 {
		return nil, fmt.Errorf("%w: mapping header %v needs email and user_uuid", ErrMissingColumns, header)
	}

	table := make(map[string]string)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read mapping row: %w", err)
		}
		if emailIdx >= len(row) || uuidIdx >= len(row) {
			continue
		}
		email := NormalizeEmail(row[emailIdx])
		uuid := strings.TrimSpace(row[uuidIdx])
		if email == "" || uuid == "" {
			continue
		}
		if prev, ok := table[email]; ok && prev != uuid {
			return nil, fmt.Errorf("%w: %s listed as %s and %s", ErrIdentityConflict, email, prev, uuid)
		}
		table[email] = uuid
	}
	return &MappingTableBridge{table: table}, nil
}

// BridgeCandidates lists every user_uuid the join must account for: web
// activity users in encounter order, then users seen only in transactions.
func BridgeCandidates(txns []TransactionAggregate, activity []ActivityAggregate) []string {
	seen := make(map[string]bool, len(txns)+len(activity))
	out := make([]string, 0, len(txns)+len(activity))
	for _, a := range activity {
		if !seen[a.UserUUID] {
			seen[a.UserUUID] = true
			out = append(out, a.UserUUID)
		}
	}
	for _, t := range txns {
		if !seen[t.UserUUID] {
			seen[t.UserUUID] = true
			out = append(out, t.UserUUID)
		}
	}
	return out
}
