package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// settingItem is one setting row. PK is SETTING#<scope>#<scopeID>, SK the key.
type settingItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Value     string `dynamodbav:"Value"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// DynamoStore keeps settings in a single DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoStore creates a settings store backed by DynamoDB.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func partitionKey(scope, scopeID string) string {
	return fmt.Sprintf("SETTING#%s#%s", scope, scopeID)
}

func (s *DynamoStore) GetSetting(ctx context.Context, scope, scopeID, key string) (string, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: partitionKey(scope, scopeID)},
			"SK": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("getting setting from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}
	var item settingItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", false, fmt.Errorf("unmarshaling setting: %w", err)
	}
	return item.Value, true, nil
}

func (s *DynamoStore) PutSetting(ctx context.Context, scope, scopeID, key, value string) error {
	av, err := attributevalue.MarshalMap(settingItem{
		PK:        partitionKey(scope, scopeID),
		SK:        key,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshaling setting: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting setting to DynamoDB: %w", err)
	}
	return nil
}
