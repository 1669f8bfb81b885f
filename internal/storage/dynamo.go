package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// interactionsItemKey is the sort key of the item holding the interaction log.
const interactionsItemKey = "#interactions"

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type dynamoStateItem struct {
	SessionID string `dynamodbav:"sessionId"`
	ItemKey   string `dynamodbav:"itemKey"`
	Value     string `dynamodbav:"value,omitempty"`
	UpdatedAt string `dynamodbav:"updatedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt,omitempty"`
}

type dynamoInteractionsItem struct {
	SessionID string        `dynamodbav:"sessionId"`
	ItemKey   string        `dynamodbav:"itemKey"`
	Entries   []Interaction `dynamodbav:"entries"`
	UpdatedAt string        `dynamodbav:"updatedAt"`
	ExpiresAt int64         `dynamodbav:"expiresAt,omitempty"`
}

// DynamoBackend stores one item per (session, key) in a table keyed by
// sessionId (partition) and itemKey (sort). expiresAt feeds the table TTL.
type DynamoBackend struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

var _ Backend = (*DynamoBackend)(nil)

// NewDynamoBackend builds a backend on the provided DynamoDB client.
func NewDynamoBackend(client dynamoAPI, tableName string, ttl time.Duration) *DynamoBackend {
	if client == nil {
		panic("storage: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("storage: table name cannot be empty")
	}
	return &DynamoBackend{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func dynamoKey(session, itemKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sessionId": &types.AttributeValueMemberS{Value: session},
		"itemKey":   &types.AttributeValueMemberS{Value: itemKey},
	}
}

func (d *DynamoBackend) expiresAt(now time.Time) int64 {
	if d.ttl <= 0 {
		return 0
	}
	return now.Add(d.ttl).Unix()
}

func (d *DynamoBackend) Get(ctx context.Context, session, key string) ([]byte, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       dynamoKey(session, key),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: dynamodb get %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var item dynamoStateItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("storage: decode dynamodb item: %w", err)
	}
	return []byte(item.Value), nil
}

func (d *DynamoBackend) Set(ctx context.Context, session, key string, value []byte) error {
	now := d.now().UTC()
	item, err := attributevalue.MarshalMap(dynamoStateItem{
		SessionID: session,
		ItemKey:   key,
		Value:     string(value),
		UpdatedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: d.expiresAt(now),
	})
	if err != nil {
		return fmt.Errorf("storage: marshal dynamodb item: %w", err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("storage: dynamodb set %s: %w", key, err)
	}
	return nil
}

func (d *DynamoBackend) Clear(ctx context.Context, session string) error {
	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("sessionId = :session"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":session": &types.AttributeValueMemberS{Value: session},
			},
			ProjectionExpression: aws.String("sessionId, itemKey"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("storage: dynamodb query session: %w", err)
		}
		for _, item := range out.Items {
			if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(d.tableName),
				Key: map[string]types.AttributeValue{
					"sessionId": item["sessionId"],
					"itemKey":   item["itemKey"],
				},
			}); err != nil {
				return fmt.Errorf("storage: dynamodb delete: %w", err)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (d *DynamoBackend) AppendInteraction(ctx context.Context, session string, entry Interaction) error {
	entries, err := d.Interactions(ctx, session)
	if err != nil {
		return err
	}
	now := d.now().UTC()
	item, err := attributevalue.MarshalMap(dynamoInteractionsItem{
		SessionID: session,
		ItemKey:   interactionsItemKey,
		Entries:   trimInteractions(append(entries, entry)),
		UpdatedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: d.expiresAt(now),
	})
	if err != nil {
		return fmt.Errorf("storage: marshal interactions: %w", err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("storage: dynamodb append interaction: %w", err)
	}
	return nil
}

func (d *DynamoBackend) Interactions(ctx context.Context, session string) ([]Interaction, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            dynamoKey(session, interactionsItemKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: dynamodb interactions: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var item dynamoInteractionsItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("storage: decode interactions: %w", err)
	}
	return item.Entries, nil
}
