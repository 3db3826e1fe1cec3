// Package dynamo stores session records in a DynamoDB table keyed by
// sessionId. Expiry is left to the table's TTL attribute (expiresAt); reads
// also hide records that are past it but not yet swept.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tjfontaine/agent-relay-gateway/internal/domain"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store is a DynamoDB implementation of SessionStore
type Store struct {
	api   API
	table string
	ttl   time.Duration
	now   func() time.Time
}

var _ storage.SessionStore = (*Store)(nil)

// New creates a store over table.
func New(api API, table string, ttl time.Duration) *Store {
	return &Store{api: api, table: table, ttl: ttl, now: time.Now}
}

func (s *Store) InitSession(ctx context.Context, sessionID string) error {
	rec := storage.NewRecord(sessionID, s.now(), s.ttl)

	item := map[string]types.AttributeValue{
		"sessionId":       &types.AttributeValueMemberS{Value: rec.SessionID},
		"reportGenerated": &types.AttributeValueMemberBOOL{Value: false},
		"lastReportTime":  number(0),
		"createdAt":       number(rec.CreatedAt),
		"updatedAt":       number(rec.UpdatedAt),
	}
	if rec.ExpiresAt > 0 {
		item["expiresAt"] = number(rec.ExpiresAt)
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return s.wrapErr("put session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.ReportRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.wrapErr("get session", err)
	}
	if len(out.Item) == 0 {
		return nil, storage.ErrNotFound
	}

	rec, err := decodeRecord(out.Item)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if storage.Expired(rec, s.now()) {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) MarkReportGenerated(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 key(sessionID),
		UpdateExpression:    aws.String("SET reportGenerated = :g, lastReportTime = :t, updatedAt = :u"),
		ConditionExpression: aws.String("attribute_exists(sessionId)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":g": &types.AttributeValueMemberBOOL{Value: true},
			":t": number(at.Unix()),
			":u": number(s.now().Unix()),
		},
	})
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return storage.ErrNotFound
	}
	if err != nil {
		return s.wrapErr("update session", err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// wrapErr maps a missing table to ErrNotReady.
func (s *Store) wrapErr(op string, err error) error {
	var missing *types.ResourceNotFoundException
	if errors.As(err, &missing) {
		return fmt.Errorf("%s: table %s: %w", op, s.table, storage.ErrNotReady)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func key(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
	}
}

func number(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func decodeRecord(item map[string]types.AttributeValue) (*domain.ReportRecord, error) {
	rec := &domain.ReportRecord{}

	id, ok := item["sessionId"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing sessionId")
	}
	rec.SessionID = id.Value

	if g, ok := item["reportGenerated"].(*types.AttributeValueMemberBOOL); ok {
		rec.ReportGenerated = g.Value
	}

	fields := []struct {
		name string
		dst  *int64
	}{
		{"lastReportTime", &rec.LastReportTime},
		{"createdAt", &rec.CreatedAt},
		{"updatedAt", &rec.UpdatedAt},
		{"expiresAt", &rec.ExpiresAt},
	}
	for _, f := range fields {
		av, ok := item[f.name].(*types.AttributeValueMemberN)
		if !ok {
			continue
		}
		// Numbers written by other tools may carry a fractional part.
		v, err := strconv.ParseFloat(av.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", f.name, err)
		}
		*f.dst = int64(v)
	}

	return rec, nil
}
