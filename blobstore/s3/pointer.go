package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/localagg/blobstore"
)

// DDBClient is the subset of the DynamoDB API used by DDBPointer.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Compile time check to ensure the SDK client satisfies DDBClient.
var _ DDBClient = (*dynamodb.Client)(nil)

// DDBPointer tracks the latest checkpoint of a run in DynamoDB.
//
// S3 has no compare-and-swap, so a "latest" object written by two trainers
// could silently lose a commit. Every commit is instead a new item with a
// monotonically increasing version, written with a conditional put.
//
// Table schema:
//   - Partition key: run_id (string)
//   - Sort key: version (number)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name localagg-checkpoints \
//	  --attribute-definitions AttributeName=run_id,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=run_id,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBPointer struct {
	client    DDBClient
	tableName string
	run       string
}

// NewDDBPointer creates a pointer for run stored in tableName.
// run is usually the s3://bucket/prefix the checkpoints live under.
func NewDDBPointer(client DDBClient, tableName, run string) *DDBPointer {
	return &DDBPointer{
		client:    client,
		tableName: tableName,
		run:       run,
	}
}

// Latest returns the most recently committed checkpoint name and its version.
// Returns blobstore.ErrNotFound if nothing was committed yet.
func (p *DDBPointer) Latest(ctx context.Context) (string, uint64, error) {
	resp, err := p.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(p.tableName),
		KeyConditionExpression: aws.String("run_id = :run"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":run": &types.AttributeValueMemberS{Value: p.run},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return "", 0, fmt.Errorf("s3: query checkpoint pointer: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", 0, blobstore.ErrNotFound
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return "", 0, errors.New("s3: invalid version attribute in checkpoint pointer")
	}
	nameAttr, ok := item["checkpoint"].(*types.AttributeValueMemberS)
	if !ok {
		return "", 0, errors.New("s3: invalid checkpoint attribute in checkpoint pointer")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("s3: parse checkpoint version: %w", err)
	}
	return nameAttr.Value, version, nil
}

// Commit records name as the latest checkpoint and returns its version.
// Returns blobstore.ErrConflict if another writer committed the same version.
func (p *DDBPointer) Commit(ctx context.Context, name string) (uint64, error) {
	_, current, err := p.Latest(ctx)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return 0, err
	}
	next := current + 1

	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.tableName),
		Item: map[string]types.AttributeValue{
			"run_id":     &types.AttributeValueMemberS{Value: p.run},
			"version":    &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"checkpoint": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, blobstore.ErrConflict
		}
		return 0, fmt.Errorf("s3: commit checkpoint pointer: %w", err)
	}
	return next, nil
}
