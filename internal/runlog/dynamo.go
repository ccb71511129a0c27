package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// dynamoAPI is the part of *dynamodb.Client the recorder uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// runItem is the DynamoDB shape of a Summary. Rejection entries are not
// stored here; the rejection log output holds them.
type runItem struct {
	PK               string                `dynamodbav:"PK"`
	SK               string                `dynamodbav:"SK"`
	Status           string                `dynamodbav:"Status"`
	DryRun           bool                  `dynamodbav:"DryRun"`
	FinishedAt       string                `dynamodbav:"FinishedAt"`
	DurationMillis   int64                 `dynamodbav:"DurationMillis"`
	IdentityBridge   string                `dynamodbav:"IdentityBridge"`
	IdentityVerified bool                  `dynamodbav:"IdentityVerified"`
	Customers        int                   `dynamodbav:"Customers"`
	Rejections       int                   `dynamodbav:"Rejections"`
	Counts           map[string]countsItem `dynamodbav:"Counts"`
	Outputs          map[string]string     `dynamodbav:"Outputs,omitempty"`
	Error            string                `dynamodbav:"Error,omitempty"`
	TTL              int64                 `dynamodbav:"TTL,omitempty"`
}

type countsItem struct {
	Read         int `dynamodbav:"read"`
	Accepted     int `dynamodbav:"accepted"`
	Rejected     int `dynamodbav:"rejected"`
	ParseSkipped int `dynamodbav:"parse_skipped"`
	Deduplicated int `dynamodbav:"deduplicated"`
}

// DynamoRecorder puts one item per run, keyed RUN#<id> / <started at>.
type DynamoRecorder struct {
	client    dynamoAPI
	tableName string
	retention time.Duration
}

// NewDynamoRecorder creates a recorder. Items expire after retention; zero
// keeps them forever.
func NewDynamoRecorder(client dynamoAPI, tableName string, retention time.Duration) *DynamoRecorder {
	return &DynamoRecorder{client: client, tableName: tableName, retention: retention}
}

// NewDynamoClient builds a DynamoDB client from an AWS config.
func NewDynamoClient(cfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg)
}

func (r *DynamoRecorder) item(s Summary) runItem {
	item := runItem{
		PK:               "RUN#" + s.RunID,
		SK:               s.StartedAt.UTC().Format(time.RFC3339),
		Status:           s.Status,
		DryRun:           s.DryRun,
		FinishedAt:       s.FinishedAt.UTC().Format(time.RFC3339),
		DurationMillis:   s.Duration().Milliseconds(),
		IdentityBridge:   s.IdentityBridge,
		IdentityVerified: s.IdentityVerified,
		Customers:        s.Customers,
		Rejections:       len(s.Rejections),
		Counts:           make(map[string]countsItem, len(s.Counts)),
		Outputs:          s.Outputs,
		Error:            s.Error,
	}
	for src, c := range s.CountsBySource() {
		item.Counts[src] = countsItem{
			Read:         c.Read,
			Accepted:     c.Accepted,
			Rejected:     c.Rejected,
			ParseSkipped: c.ParseSkipped,
			Deduplicated: c.Deduplicated,
		}
	}
	if r.retention > 0 {
		item.TTL = s.FinishedAt.Add(r.retention).Unix()
	}
	return item
}

func (r *DynamoRecorder) Record(ctx context.Context, s Summary) error {
	av, err := attributevalue.MarshalMap(r.item(s))
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}
