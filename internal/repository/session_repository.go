package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/oems/oems/internal/models"
	"github.com/sirupsen/logrus"
)

var _ SessionStore = (*SessionRepository)(nil)

// SessionRepository keeps one item per user, so PutItem alone replaces the
// previous pair atomically.
type SessionRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewSessionRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *SessionRepository {
	return &SessionRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func sessionPK(userID string) string {
	return fmt.Sprintf("SESSION#%s", userID)
}

// Replace stores the session with a TTL at the refresh token's expiry
func (r *SessionRepository) Replace(ctx context.Context, session *models.AuthSession) error {
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: sessionPK(session.UserID)}
	item["SK"] = &types.AttributeValueMemberS{Value: "METADATA"}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", session.RefreshExpiry.Unix())}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store session in DynamoDB")
		return fmt.Errorf("failed to store session: %w", err)
	}

	return nil
}

func (r *SessionRepository) GetByUserID(ctx context.Context, userID string) (*models.AuthSession, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(sessionPK(userID), "METADATA"),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var session models.AuthSession
	if err := attributevalue.UnmarshalMap(result.Item, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (r *SessionRepository) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(sessionPK(userID), "METADATA"),
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// DeleteExpired is a no-op: DynamoDB TTL removes expired sessions.
func (r *SessionRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
