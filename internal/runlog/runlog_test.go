package runlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/lead-consolidator/internal/datanorm"
)

func sampleSummary() Summary {
	started := time.Date(2024, 7, 1, 2, 0, 0, 0, time.UTC)
	return Summary{
		RunID:          "9b2f6a52-5d2e-4a8e-8c43-7f0c3c1e2d11",
		StartedAt:      started,
		FinishedAt:     started.Add(1500 * time.Millisecond),
		Status:         StatusSucceeded,
		IdentityBridge: "positional",
		Customers:      3,
		Counts: map[datanorm.Source]datanorm.SourceCounts{
			datanorm.SourceTransactions: {Read: 6, Accepted: 3, Rejected: 2, ParseSkipped: 1},
		},
		Outputs: map[string]string{"customers": "file:///out/customers.parquet"},
		Rejections: []datanorm.RejectionEntry{
			{Source: datanorm.SourceTransactions, Seq: 3, RecordID: "TX-4003", Status: "Refunded", Value: "-10.0", Reason: "Non-positive amount (-10.0)"},
			{Source: datanorm.SourceActivity, Seq: 2, RecordID: "#2", Value: "99", Reason: "Missing user_uuid"},
		},
	}
}

func TestPostgresRecorder_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := sampleSummary()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO consolidation_runs`).
		WithArgs(s.RunID, s.StartedAt, s.FinishedAt, "succeeded", false,
			"positional", false, 3,
			`{"transactions":{"Read":6,"Accepted":3,"Rejected":2,"ParseSkipped":1,"Deduplicated":0}}`,
			`{"customers":"file:///out/customers.parquet"}`, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`COPY "consolidation_rejections"`)
	prep.ExpectExec().
		WithArgs(s.RunID, "transactions", 3, "TX-4003", "Refunded", "-10.0", "Non-positive amount (-10.0)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(s.RunID, "activity", 2, "#2", "", "99", "Missing user_uuid").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresRecorder(db).Record(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorder_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO consolidation_runs`).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = NewPostgresRecorder(db).Record(context.Background(), sampleSummary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorder_NoRejectionsSkipsCopy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := sampleSummary()
	s.Rejections = nil
	s.Outputs = nil
	s.Status = StatusFailed
	s.Error = "parse leads: source unreadable"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO consolidation_runs`).
		WithArgs(s.RunID, sqlmock.AnyArg(), sqlmock.AnyArg(), "failed", false,
			"positional", false, 3, sqlmock.AnyArg(), "{}", "parse leads: source unreadable").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresRecorder(db).Record(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorder_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS consolidation_runs`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresRecorder(db).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeDynamo struct {
	inputs []*dynamodb.PutItemInput
	err    error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoRecorder_Record(t *testing.T) {
	fake := &fakeDynamo{}
	rec := NewDynamoRecorder(fake, "consolidation_runs", 90*24*time.Hour)
	s := sampleSummary()

	require.NoError(t, rec.Record(context.Background(), s))
	require.Len(t, fake.inputs, 1)
	assert.Equal(t, "consolidation_runs", aws.ToString(fake.inputs[0].TableName))

	var item runItem
	require.NoError(t, attributevalue.UnmarshalMap(fake.inputs[0].Item, &item))
	assert.Equal(t, "RUN#"+s.RunID, item.PK)
	assert.Equal(t, "2024-07-01T02:00:00Z", item.SK)
	assert.Equal(t, int64(1500), item.DurationMillis)
	assert.Equal(t, 2, item.Rejections)
	assert.Equal(t, countsItem{Read: 6, Accepted: 3, Rejected: 2, ParseSkipped: 1}, item.Counts["transactions"])
	assert.Equal(t, s.FinishedAt.Add(90*24*time.Hour).Unix(), item.TTL)
	assert.Empty(t, item.Error)
}

func TestDynamoRecorder_PutFailure(t *testing.T) {
	fake := &fakeDynamo{err: errors.New("throttled")}
	err := NewDynamoRecorder(fake, "runs", 0).Record(context.Background(), sampleSummary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestSummaryHelpers(t *testing.T) {
	s := sampleSummary()
	s.Outputs["rejections"] = "file:///out/rejected.log"
	assert.Equal(t, []string{"customers", "rejections"}, s.OutputNames())
	assert.Equal(t, 1500*time.Millisecond, s.Duration())
	assert.NoError(t, Nop{}.Record(context.Background(), s))
}
