package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/pixcache/blobstore"
)

// DefaultLeaseTTL is how long a session lease survives without renewal.
const DefaultLeaseTTL = 24 * time.Hour

// DDBClient is the subset of *dynamodb.Client the registry uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// DDBRegistry leases blob cache sessions through DynamoDB conditional
// writes, so two processes never share one remote pixel cache.
//
// Table schema:
//   - Partition key: session_id (string)
//   - owner (string), expires_at (number, unix seconds)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name pixcache-sessions \
//	  --attribute-definitions AttributeName=session_id,AttributeType=S \
//	  --key-schema AttributeName=session_id,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
//
// Enabling DynamoDB TTL on expires_at lets abandoned leases disappear.
type DDBRegistry struct {
	client DDBClient
	table  string
	ttl    time.Duration
	now    func() time.Time
}

// NewDDBRegistry creates a registry on table. ttl <= 0 selects DefaultLeaseTTL.
func NewDDBRegistry(client DDBClient, table string, ttl time.Duration) *DDBRegistry {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &DDBRegistry{client: client, table: table, ttl: ttl, now: time.Now}
}

// Acquire leases session for owner. An expired lease held by another owner is
// taken over; a live one yields blobstore.ErrConflict.
func (r *DDBRegistry) Acquire(ctx context.Context, session, owner string) error {
	now := r.now()
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item: map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: session},
			"owner":      &types.AttributeValueMemberS{Value: owner},
			"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(r.ttl).Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(session_id) OR #owner = :owner OR expires_at < :now"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: session %s is leased", blobstore.ErrConflict, session)
		}
		return fmt.Errorf("ddb registry: acquire %s: %w", session, err)
	}
	return nil
}

// Release drops the lease if owner still holds it.
func (r *DDBRegistry) Release(ctx context.Context, session, owner string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: session},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: session %s is not leased by %s", blobstore.ErrConflict, session, owner)
		}
		return fmt.Errorf("ddb registry: release %s: %w", session, err)
	}
	return nil
}

// Owner returns the current lease holder, or "" if the session is free.
func (r *DDBRegistry) Owner(ctx context.Context, session string) (string, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: session},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ddb registry: lookup %s: %w", session, err)
	}
	if out.Item == nil {
		return "", nil
	}

	if exp, ok := out.Item["expires_at"].(*types.AttributeValueMemberN); ok {
		secs, err := strconv.ParseInt(exp.Value, 10, 64)
		if err != nil {
			return "", fmt.Errorf("ddb registry: invalid expires_at %q: %w", exp.Value, err)
		}
		if secs < r.now().Unix() {
			return "", nil
		}
	}
	owner, ok := out.Item["owner"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("ddb registry: invalid owner attribute")
	}
	return owner.Value, nil
}
