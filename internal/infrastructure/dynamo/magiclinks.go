package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/agrichain-api/internal/domain"
)

// MagicLinkRepo provides typed DynamoDB operations for the magic_links table.
// PK: magic_link_id; token-index and email-index GSIs serve lookups.
type MagicLinkRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewMagicLinkRepo(client *dynamodb.Client, tableName string) *MagicLinkRepo {
	return &MagicLinkRepo{client: client, tableName: tableName}
}

func (r *MagicLinkRepo) Put(ctx context.Context, m *domain.MagicLink) error {
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return fmt.Errorf("marshal magic link: %w", err)
	}
	// DynamoDB TTL sweeps records some time after expiry; request-path
	// checks remain the source of truth for "expired".
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(m.ExpiresAt.Unix(), 10)}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *MagicLinkRepo) FindByToken(ctx context.Context, token string) (*domain.MagicLink, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("token-index"),
		KeyConditionExpression: aws.String("#t = :tok"),
		ExpressionAttributeNames: map[string]string{
			"#t": "token",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tok": &types.AttributeValueMemberS{Value: token},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("magic link not found: %w", domain.ErrNotFound)
	}
	var m domain.MagicLink
	if err := attributevalue.UnmarshalMap(out.Items[0], &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindUnusedByEmail returns all unused links for an email and purpose, used
// when a fresh issuance supersedes outstanding ones.
func (r *MagicLinkRepo) FindUnusedByEmail(ctx context.Context, email, purpose string) ([]domain.MagicLink, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("email-index"),
		KeyConditionExpression: aws.String("email = :e"),
		FilterExpression:       aws.String("purpose = :p AND used = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e": &types.AttributeValueMemberS{Value: email},
			":p": &types.AttributeValueMemberS{Value: purpose},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		return nil, err
	}
	var links []domain.MagicLink
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// MarkUsed flips used to true with a first-writer-wins guard: the update is
// conditional on used still being false, so a concurrent double-submit
// succeeds for exactly one caller and the loser gets ErrAlreadyUsed.
func (r *MagicLinkRepo) MarkUsed(ctx context.Context, magicLinkID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("magic_link_id", magicLinkID),
		UpdateExpression:    aws.String("SET used = :t"),
		ConditionExpression: aws.String("used = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("magic link already used: %w", domain.ErrAlreadyUsed)
		}
		return err
	}
	return nil
}

func (r *MagicLinkRepo) Delete(ctx context.Context, magicLinkID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("magic_link_id", magicLinkID),
	})
	return err
}
