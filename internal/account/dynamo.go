package account

import (
	"context"
	"fmt"
	"time"

	"audit-enrich/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI 는 dynamodb.Client 중 DynamoCache 가 쓰는 부분.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// cacheItem
//
// 테이블 1행. 파티션 키는 accountId.
// ttl 은 DynamoDB TTL 속성(epoch seconds)이라 만료 후 언젠가 삭제되지만 즉시는 아니므로,
// 읽을 때 cachedAt 으로 한 번 더 만료를 확인한다.
// organizationalUnit 은 GSI 키라 빈 문자열을 쓸 수 없어 omitempty.
type cacheItem struct {
	AccountID          string `dynamodbav:"accountId"`
	Alias              string `dynamodbav:"alias"`
	AccountType        string `dynamodbav:"accountType"`
	OrganizationalUnit string `dynamodbav:"organizationalUnit,omitempty"`
	OrganizationID     string `dynamodbav:"organizationId,omitempty"`
	CostCenter         string `dynamodbav:"costCenter,omitempty"`
	Environment        string `dynamodbav:"environment,omitempty"`
	Team               string `dynamodbav:"team,omitempty"`
	BusinessUnit       string `dynamodbav:"businessUnit,omitempty"`
	ComplianceLevel    string `dynamodbav:"complianceLevel,omitempty"`
	Status             string `dynamodbav:"status,omitempty"`
	LastUpdated        string `dynamodbav:"lastUpdated"`
	CachedAt           int64  `dynamodbav:"cachedAt"`
	TTL                int64  `dynamodbav:"ttl"`
}

// DynamoCache 는 DynamoDB 기반 2차(durable) 캐시. 여러 Lambda 인스턴스가 공유한다.
// 동시 쓰기는 last-writer-wins.
type DynamoCache struct {
	api   DynamoAPI
	table string
	ttl   time.Duration
	now   func() time.Time
}

func NewDynamoCache(api DynamoAPI, table string, ttl time.Duration) *DynamoCache {
	return &DynamoCache{api: api, table: table, ttl: ttl, now: time.Now}
}

func (c *DynamoCache) key(accountID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"accountId": &types.AttributeValueMemberS{Value: accountID},
	}
}

// Get 은 (메타데이터 + cachedAt, hit 여부, 에러) 를 반환한다. 만료된 행은 miss 로 취급한다.
func (c *DynamoCache) Get(ctx context.Context, accountID string) (CachedMetadata, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            c.key(accountID),
		ConsistentRead: aws.Bool(false),
	})
	if err != nil {
		return CachedMetadata{}, false, fmt.Errorf("dynamodb get %s: %w", accountID, err)
	}
	if len(out.Item) == 0 {
		return CachedMetadata{}, false, nil
	}

	var it cacheItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return CachedMetadata{}, false, fmt.Errorf("dynamodb unmarshal %s: %w", accountID, err)
	}

	cachedAt := time.Unix(it.CachedAt, 0).UTC()
	if c.now().Sub(cachedAt) >= c.ttl {
		return CachedMetadata{}, false, nil
	}
	return CachedMetadata{Meta: it.toMetadata(), CachedAt: cachedAt}, true, nil
}

func (c *DynamoCache) Put(ctx context.Context, meta model.AccountMetadata) error {
	now := c.now()
	it := fromMetadata(meta)
	it.CachedAt = now.Unix()
	it.TTL = now.Add(c.ttl).Unix()

	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("dynamodb marshal %s: %w", meta.AccountID, err)
	}
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb put %s: %w", meta.AccountID, err)
	}
	return nil
}

func (c *DynamoCache) Delete(ctx context.Context, accountID string) error {
	if _, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       c.key(accountID),
	}); err != nil {
		return fmt.Errorf("dynamodb delete %s: %w", accountID, err)
	}
	return nil
}

func fromMetadata(m model.AccountMetadata) cacheItem {
	return cacheItem{
		AccountID:          m.AccountID,
		Alias:              m.Alias,
		AccountType:        string(m.AccountType),
		OrganizationalUnit: m.OrganizationalUnit,
		OrganizationID:     m.OrganizationID,
		CostCenter:         m.CostCenter,
		Environment:        m.Environment,
		Team:               m.Team,
		BusinessUnit:       m.BusinessUnit,
		ComplianceLevel:    m.ComplianceLevel,
		Status:             m.Status,
		LastUpdated:        m.LastUpdated.UTC().Format(time.RFC3339),
	}
}

func (it cacheItem) toMetadata() model.AccountMetadata {
	updated, _ := time.Parse(time.RFC3339, it.LastUpdated)
	kind, ok := ParseAccountType(it.AccountType)
	if !ok {
		kind = model.AccountTypeUnknown
	}
	return model.AccountMetadata{
		AccountID:          it.AccountID,
		Alias:              it.Alias,
		AccountType:        kind,
		OrganizationalUnit: it.OrganizationalUnit,
		OrganizationID:     it.OrganizationID,
		CostCenter:         it.CostCenter,
		Environment:        it.Environment,
		Team:               it.Team,
		BusinessUnit:       it.BusinessUnit,
		ComplianceLevel:    it.ComplianceLevel,
		Status:             it.Status,
		LastUpdated:        updated,
	}
}
