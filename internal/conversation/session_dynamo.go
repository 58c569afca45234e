package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/emma-intake/internal/intake"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// sessionRecord is the DynamoDB item. The state travels as a JSON string so
// the open custom-fields map keeps its types across round trips.
type sessionRecord struct {
	ConversationID string `dynamodbav:"conversation_id"`
	Phase          string `dynamodbav:"phase"`
	State          string `dynamodbav:"state"`
	UpdatedAt      string `dynamodbav:"updated_at"`
	ExpiresAt      int64  `dynamodbav:"expires_at"`
}

// DynamoSessionStore persists sessions in a table keyed by conversation_id,
// with expires_at configured as the table's TTL attribute.
type DynamoSessionStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoSessionStore(client dynamoAPI, tableName string, ttl time.Duration) *DynamoSessionStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &DynamoSessionStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *DynamoSessionStore) Save(ctx context.Context, state *intake.State) error {
	if state == nil || state.ConversationID == "" {
		return errors.New("conversation: state requires a conversation id")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal session: %w", err)
	}
	now := s.now().UTC()
	item, err := attributevalue.MarshalMap(sessionRecord{
		ConversationID: state.ConversationID,
		Phase:          state.Label(),
		State:          string(payload),
		UpdatedAt:      now.Format(time.RFC3339Nano),
		ExpiresAt:      now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal session item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return nil
}

func (s *DynamoSessionStore) Load(ctx context.Context, conversationID string) (*intake.State, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"conversation_id": &types.AttributeValueMemberS{Value: conversationID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to load session: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, conversationID)
	}

	var record sessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode session item: %w", err)
	}
	// DynamoDB deletes expired items lazily.
	if record.ExpiresAt > 0 && record.ExpiresAt <= s.now().Unix() {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, conversationID)
	}
	var state intake.State
	if err := json.Unmarshal([]byte(record.State), &state); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	return &state, nil
}
