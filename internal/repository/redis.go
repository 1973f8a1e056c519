package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oems/oems/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	_ OTPStore      = (*RedisOTPStore)(nil)
	_ SessionStore  = (*RedisSessionStore)(nil)
	_ UserDirectory = (*RedisUserDirectory)(nil)
)

const (
	redisOTPSeqKey      = "auth:otp:seq"
	redisOTPPrefix      = "auth:otp:"
	redisSessionPrefix  = "auth:session:"
	redisUserPrefix     = "auth:user:"
	redisUserKeyPrefix  = redisUserPrefix + "id:"
	redisPhoneKeyPrefix = redisUserPrefix + "phone:"
	redisEmailKeyPrefix = redisUserPrefix + "email:"
)

// RedisOTPStore keeps a sorted set per phone scored by code id. The key
// expires together with its newest code.
type RedisOTPStore struct {
	client *redis.Client
}

func NewRedisOTPStore(client *redis.Client) *RedisOTPStore {
	return &RedisOTPStore{client: client}
}

func (s *RedisOTPStore) Create(ctx context.Context, code *models.OTPCode) error {
	id, err := s.client.Incr(ctx, redisOTPSeqKey).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate OTP id: %w", err)
	}
	code.ID = id

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	key := redisOTPPrefix + code.Phone
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(id), Member: data})
	pipe.PExpireAt(ctx, key, code.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (s *RedisOTPStore) LatestValid(ctx context.Context, phone string, now time.Time) (*models.OTPCode, error) {
	members, err := s.client.ZRevRange(ctx, redisOTPPrefix+phone, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	for _, member := range members {
		var code models.OTPCode
		if err := json.Unmarshal([]byte(member), &code); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
		}
		if !code.IsExpired(now) {
			return &code, nil
		}
	}
	return nil, nil
}

// DeleteExpired is a no-op: keys expire with their newest code.
func (s *RedisOTPStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Replace(ctx context.Context, session *models.AuthSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	// TTL is measured from the issuing clock, not the Redis server's.
	ttl := session.RefreshExpiry.Sub(session.UpdatedAt)
	if ttl <= 0 {
		return s.DeleteByUserID(ctx, session.UserID)
	}
	if err := s.client.Set(ctx, redisSessionPrefix+session.UserID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) GetByUserID(ctx context.Context, userID string) (*models.AuthSession, error) {
	data, err := s.client.Get(ctx, redisSessionPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var session models.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) DeleteByUserID(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, redisSessionPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: session keys carry the refresh token's TTL.
func (s *RedisSessionStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

const createUserScript = `
local id, phone, email = ARGV[2], ARGV[3], ARGV[4]
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
if phone ~= "" and redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
if email ~= "" and redis.call("EXISTS", KEYS[3]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
if phone ~= "" then
  redis.call("SET", KEYS[2], id)
end
if email ~= "" then
  redis.call("SET", KEYS[3], id)
end
return 1
`

// KEYS: user, old phone, new phone, old email, new email.
// ARGV: user json, id, old phone, new phone, old email, new email.
const updateUserScript = `
local id = ARGV[2]
local oldPhone, newPhone, oldEmail, newEmail = ARGV[3], ARGV[4], ARGV[5], ARGV[6]
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if newPhone ~= "" and newPhone ~= oldPhone then
  local owner = redis.call("GET", KEYS[3])
  if owner and owner ~= id then
    return 0
  end
end
if newEmail ~= "" and newEmail ~= oldEmail then
  local owner = redis.call("GET", KEYS[5])
  if owner and owner ~= id then
    return 0
  end
end
if oldPhone ~= newPhone then
  if oldPhone ~= "" then redis.call("DEL", KEYS[2]) end
  if newPhone ~= "" then redis.call("SET", KEYS[3], id) end
end
if oldEmail ~= newEmail then
  if oldEmail ~= "" then redis.call("DEL", KEYS[4]) end
  if newEmail ~= "" then redis.call("SET", KEYS[5], id) end
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`

// RedisUserDirectory stores users as JSON with phone and email index keys.
// Scripts keep the indexes and the uniqueness checks atomic.
type RedisUserDirectory struct {
	client       *redis.Client
	logger       *logrus.Logger
	createScript *redis.Script
	updateScript *redis.Script
}

func NewRedisUserDirectory(client *redis.Client, logger *logrus.Logger) *RedisUserDirectory {
	return &RedisUserDirectory{
		client:       client,
		logger:       logger,
		createScript: redis.NewScript(createUserScript),
		updateScript: redis.NewScript(updateUserScript),
	}
}

func (d *RedisUserDirectory) GetByID(ctx context.Context, id string) (*models.User, error) {
	data, err := d.client.Get(ctx, redisUserKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		d.logger.WithError(err).Error("Failed to get user from Redis")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

func (d *RedisUserDirectory) GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.User, error) {
	return d.getByIndex(ctx, redisPhoneKeyPrefix+phoneNumber)
}

func (d *RedisUserDirectory) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return d.getByIndex(ctx, redisEmailKeyPrefix+email)
}

func (d *RedisUserDirectory) getByIndex(ctx context.Context, key string) (*models.User, error) {
	id, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		d.logger.WithError(err).Error("Failed to get user index from Redis")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return d.GetByID(ctx, id)
}

func (d *RedisUserDirectory) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	keys := []string{
		redisUserKeyPrefix + user.ID,
		redisPhoneKeyPrefix + user.PhoneNumber,
		redisEmailKeyPrefix + user.Email,
	}
	created, err := d.createScript.Run(ctx, d.client, keys, data, user.ID, user.PhoneNumber, user.Email).Int64()
	if err != nil {
		d.logger.WithError(err).Error("Failed to create user in Redis")
		return fmt.Errorf("failed to create user: %w", err)
	}
	if created == 0 {
		return ErrUserExists
	}
	return nil
}

func (d *RedisUserDirectory) Update(ctx context.Context, user *models.User) error {
	current, err := d.GetByID(ctx, user.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("user %s not found", user.ID)
	}
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	keys := []string{
		redisUserKeyPrefix + user.ID,
		redisPhoneKeyPrefix + current.PhoneNumber,
		redisPhoneKeyPrefix + user.PhoneNumber,
		redisEmailKeyPrefix + current.Email,
		redisEmailKeyPrefix + user.Email,
	}
	result, err := d.updateScript.Run(ctx, d.client, keys,
		data, user.ID, current.PhoneNumber, user.PhoneNumber, current.Email, user.Email,
	).Int64()
	if err != nil {
		d.logger.WithError(err).Error("Failed to update user in Redis")
		return fmt.Errorf("failed to update user: %w", err)
	}
	switch result {
	case -1:
		return fmt.Errorf("user %s not found", user.ID)
	case 0:
		return ErrUserExists
	}
	return nil
}
