package output

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/ignite/lead-consolidator/internal/datanorm"
)

// ContentTypeParquet is the media type used when uploading the customer table.
const ContentTypeParquet = "application/vnd.apache.parquet"

// CustomerRow is one row of the consolidated customer table. Amounts are
// exact decimal text; timestamps are nullable so "no activity" stays
// distinguishable from a real time.
type CustomerRow struct {
	Email       string     `parquet:"email"`
	Name        string     `parquet:"name"`
	Phone       string     `parquet:"phone"`
	Company     string     `parquet:"company"`
	LeadSource  string     `parquet:"lead_source"`
	CreatedAt   *time.Time `parquet:"creation_date,optional"`
	UserUUID    string     `parquet:"user_uuid"`
	Bridge      string     `parquet:"identity_bridge"`
	Verified    bool       `parquet:"identity_verified"`

	CompletedCount  int64  `parquet:"completed_count"`
	CompletedAmount string `parquet:"completed_amount"`
	PendingCount    int64  `parquet:"pending_count"`
	PendingAmount   string `parquet:"pending_amount"`
	RefundedCount   int64  `parquet:"refunded_count"`
	RefundedAmount  string `parquet:"refunded_amount"`
	OtherCount      int64  `parquet:"other_count"`
	OtherAmount     string `parquet:"other_amount"`
	TransactionIDs  string `parquet:"transaction_ids"`

	TotalPageViews int64      `parquet:"total_page_views"`
	LastActivityAt *time.Time `parquet:"last_activity_timestamp,optional"`
}

// ToRow flattens a customer record into the fixed output schema. Statuses
// missing from the record come out as 0 and "0"; statuses outside
// datanorm.KnownStatuses are summed into the other columns.
func ToRow(c datanorm.CustomerRecord) CustomerRow {
	completed := c.Total(datanorm.StatusCompleted)
	pending := c.Total(datanorm.StatusPending)
	refunded := c.Total(datanorm.StatusRefunded)
	other := c.OtherTotal()

	return CustomerRow{
		Email:           c.Email,
		Name:            c.Name,
		Phone:           c.Phone,
		Company:         c.Company,
		LeadSource:      c.LeadSource,
		CreatedAt:       utc(c.CreationDate),
		UserUUID:        c.UserUUID,
		Bridge:          c.IdentityBridge,
		Verified:        c.IdentityVerified,
		CompletedCount:  completed.Count,
		CompletedAmount: completed.Amount.String(),
		PendingCount:    pending.Count,
		PendingAmount:   pending.Amount.String(),
		RefundedCount:   refunded.Count,
		RefundedAmount:  refunded.Amount.String(),
		OtherCount:      other.Count,
		OtherAmount:     other.Amount.String(),
		TransactionIDs:  c.TransactionIDs,
		TotalPageViews:  c.TotalPageViews,
		LastActivityAt:  utc(c.LastActivityAt),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func compressionOption(name string) (parquet.WriterOption, error) {
	switch name {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "none":
		return parquet.Compression(&parquet.Uncompressed), nil
	default:
		return nil, fmt.Errorf("unknown parquet compression %q", name)
	}
}

// RenderCustomers encodes customers as a parquet file in memory. The output
// carries no run-specific metadata, so identical input gives identical bytes.
func RenderCustomers(customers []datanorm.CustomerRecord, compression string) ([]byte, error) {
	codec, err := compressionOption(compression)
	if err != nil {
		return nil, err
	}

	rows := make([]CustomerRow, len(customers))
	for i, c := range customers {
		rows[i] = ToRow(c)
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[CustomerRow](&buf, codec)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("write customer rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
