package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"autoblog/internal/storage"
)

// dynamodbAPI is the subset of *dynamodb.Client used by Store.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store keeps every collection in one table: PK is the collection, SK the record id.
type Store struct {
	api       dynamodbAPI
	tableName string
}

var _ storage.RecordStore = (*Store)(nil)

func New(api dynamodbAPI, tableName string) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Store{api: api, tableName: tableName}, nil
}

func key(c storage.Collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: string(c)},
		"SK": &types.AttributeValueMemberS{Value: id},
	}
}

func (s *Store) PutRecord(ctx context.Context, c storage.Collection, r storage.Record) error {
	if !c.Valid() || r.ID == "" {
		return fmt.Errorf("dynamo: invalid record %s/%q", c, r.ID)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	item := key(c, r.ID)
	item["status"] = &types.AttributeValueMemberS{Value: r.Status}
	item["payload"] = &types.AttributeValueMemberS{Value: string(r.Payload)}
	item["created_at"] = &types.AttributeValueMemberS{Value: r.CreatedAt.UTC().Format(time.RFC3339Nano)}
	item["updated_at"] = &types.AttributeValueMemberS{Value: r.UpdatedAt.UTC().Format(time.RFC3339Nano)}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo: put %s: %w", c, err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, c storage.Collection, id string) (storage.Record, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(c, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return storage.Record{}, fmt.Errorf("dynamo: get %s: %w", c, err)
	}
	if out == nil || len(out.Item) == 0 {
		return storage.Record{}, storage.ErrNotFound
	}
	return itemToRecord(out.Item)
}

// ListRecords pages through the whole partition; collections here stay small.
func (s *Store) ListRecords(ctx context.Context, c storage.Collection, limit, offset int) ([]storage.Record, error) {
	items, err := s.queryAll(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Record, 0, len(items))
	for _, item := range items {
		r, err := itemToRecord(item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteRecord(ctx context.Context, c storage.Collection, id string) error {
	out, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.tableName),
		Key:          key(c, id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("dynamo: delete %s: %w", c, err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) queryAll(ctx context.Context, c storage.Collection) ([]map[string]types.AttributeValue, error) {
	var (
		items []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: string(c)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: query %s: %w", c, err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

func itemToRecord(item map[string]types.AttributeValue) (storage.Record, error) {
	var r storage.Record
	var err error
	if r.ID, err = strAttr(item, "SK"); err != nil {
		return storage.Record{}, err
	}
	r.Status, _ = strAttr(item, "status")
	payload, err := strAttr(item, "payload")
	if err != nil {
		return storage.Record{}, err
	}
	r.Payload = []byte(payload)
	if r.CreatedAt, err = timeAttr(item, "created_at"); err != nil {
		return storage.Record{}, err
	}
	if r.UpdatedAt, err = timeAttr(item, "updated_at"); err != nil {
		return storage.Record{}, err
	}
	return r, nil
}

func strAttr(item map[string]types.AttributeValue, name string) (string, error) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamo: attribute %q missing or not a string", name)
	}
	return v.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, name string) (time.Time, error) {
	s, err := strAttr(item, name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("dynamo: parse %s: %w", name, err)
	}
	return t, nil
}
