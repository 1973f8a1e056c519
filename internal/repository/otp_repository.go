package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/oems/oems/internal/models"
	"github.com/sirupsen/logrus"
)

var _ OTPStore = (*OTPRepository)(nil)

// OTPRepository stores OTP codes in DynamoDB under PK "OTP#<phone>" with a
// zero-padded sequence number as sort key. Expired rows are removed by the
// table's TTL attribute.
type OTPRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewOTPRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// nextID increments the shared OTP counter item atomically.
func (r *OTPRepository) nextID(ctx context.Context) (int64, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              itemKey("COUNTER", "OTP"),
		UpdateExpression: aws.String("ADD Seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate OTP id: %w", err)
	}
	seq, ok := out.Attributes["Seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("failed to allocate OTP id: missing counter value")
	}
	return strconv.ParseInt(seq.Value, 10, 64)
}

// Create stores OTP data in DynamoDB with TTL
func (r *OTPRepository) Create(ctx context.Context, code *models.OTPCode) error {
	id, err := r.nextID(ctx)
	if err != nil {
		return err
	}

	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: fmt.Sprintf("OTP#%s", code.Phone)},
		"SK":        &types.AttributeValueMemberS{Value: fmt.Sprintf("%020d", id)},
		"ID":        &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		"Phone":     &types.AttributeValueMemberS{Value: code.Phone},
		"CodeHash":  &types.AttributeValueMemberS{Value: code.CodeHash},
		"CreatedAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(code.CreatedAt.UnixMilli(), 10)},
		"ExpiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(code.ExpiresAt.UnixMilli(), 10)},
		"TTL":       &types.AttributeValueMemberN{Value: strconv.FormatInt(code.ExpiresAt.Unix(), 10)},
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	code.ID = id
	return nil
}

// LatestValid walks the phone's codes newest first and returns the first one
// that has not expired.
func (r *OTPRepository) LatestValid(ctx context.Context, phone string, now time.Time) (*models.OTPCode, error) {
	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		FilterExpression:       aws.String("ExpiresAt > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: fmt.Sprintf("OTP#%s", phone)},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get OTP: %w", err)
		}
		if len(page.Items) > 0 {
			return otpFromItem(page.Items[0])
		}
	}
	return nil, nil
}

// DeleteExpired is a no-op: DynamoDB TTL removes expired codes.
func (r *OTPRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func otpFromItem(item map[string]types.AttributeValue) (*models.OTPCode, error) {
	code := &models.OTPCode{}
	var err error
	if code.ID, err = numberAttr(item, "ID"); err != nil {
		return nil, err
	}
	createdAt, err := numberAttr(item, "CreatedAt")
	if err != nil {
		return nil, err
	}
	expiresAt, err := numberAttr(item, "ExpiresAt")
	if err != nil {
		return nil, err
	}
	code.CreatedAt = time.UnixMilli(createdAt).UTC()
	code.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	if v, ok := item["Phone"].(*types.AttributeValueMemberS); ok {
		code.Phone = v.Value
	}
	if v, ok := item["CodeHash"].(*types.AttributeValueMemberS); ok {
		code.CodeHash = v.Value
	}
	return code, nil
}

func numberAttr(item map[string]types.AttributeValue, name string) (int64, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("failed to unmarshal OTP data: missing %s", name)
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	return n, nil
}
