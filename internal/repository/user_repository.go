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

var _ UserDirectory = (*UserRepository)(nil)

const lookupSK = "LOOKUP"

// UserRepository stores each user under "USER!<id>" and keeps one lookup
// item per phone number and email pointing back at the user id. Lookup items
// are written in the same transaction as the user, guarded by
// attribute_not_exists, which is what makes phone and email unique.
type UserRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func phoneLookupPK(phone string) string { return "PHONE#" + phone }
func emailLookupPK(email string) string { return "EMAIL#" + email }

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{ID: id}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(user.GetPK(), user.GetSK()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil // User not found
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Item, &dbUser); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &dbUser, nil
}

func (r *UserRepository) GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.User, error) {
	return r.getByLookup(ctx, phoneLookupPK(phoneNumber))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getByLookup(ctx, emailLookupPK(email))
}

func (r *UserRepository) getByLookup(ctx context.Context, pk string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(pk, lookupSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user lookup from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	userID, ok := result.Item["UserID"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("failed to get user: lookup %s has no UserID", pk)
	}

	return r.GetByID(ctx, userID.Value)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	put, err := r.userPut(user, "attribute_not_exists(PK)")
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{put}
	if user.PhoneNumber != "" {
		items = append(items, r.lookupPut(phoneLookupPK(user.PhoneNumber), user.ID))
	}
	if user.Email != "" {
		items = append(items, r.lookupPut(emailLookupPK(user.Email), user.ID))
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// Update rewrites the user item and moves any lookup whose value changed.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	current, err := r.GetByID(ctx, user.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("user %s not found", user.ID)
	}

	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now().UTC()

	put, err := r.userPut(user, "attribute_exists(PK)")
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{put}
	items = append(items, r.moveLookup(phoneLookupPK, current.PhoneNumber, user.PhoneNumber, user.ID)...)
	items = append(items, r.moveLookup(emailLookupPK, current.Email, user.Email, user.ID)...)

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to update user in DynamoDB")
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}

func (r *UserRepository) userPut(user *models.User, condition string) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return types.TransactWriteItem{}, fmt.Errorf("failed to marshal user: %w", err)
	}

	// Add PK and SK
	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String(condition),
		},
	}, nil
}

func (r *UserRepository) lookupPut(pk, userID string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(r.tableName),
			Item: map[string]types.AttributeValue{
				"PK":     &types.AttributeValueMemberS{Value: pk},
				"SK":     &types.AttributeValueMemberS{Value: lookupSK},
				"UserID": &types.AttributeValueMemberS{Value: userID},
			},
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}
}

func (r *UserRepository) moveLookup(keyFn func(string) string, oldValue, newValue, userID string) []types.TransactWriteItem {
	if oldValue == newValue {
		return nil
	}
	var items []types.TransactWriteItem
	if oldValue != "" {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(r.tableName),
				Key:       itemKey(keyFn(oldValue), lookupSK),
			},
		})
	}
	if newValue != "" {
		items = append(items, r.lookupPut(keyFn(newValue), userID))
	}
	return items
}
