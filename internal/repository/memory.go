package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oems/oems/internal/models"
)

var (
	_ OTPStore      = (*MemoryOTPStore)(nil)
	_ SessionStore  = (*MemorySessionStore)(nil)
	_ UserDirectory = (*MemoryUserDirectory)(nil)
)

type MemoryOTPStore struct {
	mu     sync.Mutex
	nextID int64
	codes  map[string][]models.OTPCode
}

func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{codes: make(map[string][]models.OTPCode)}
}

func (s *MemoryOTPStore) Create(_ context.Context, code *models.OTPCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	code.ID = s.nextID
	s.codes[code.Phone] = append(s.codes[code.Phone], *code)
	return nil
}

func (s *MemoryOTPStore) LatestValid(_ context.Context, phone string, now time.Time) (*models.OTPCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.codes[phone]
	for i := len(codes) - 1; i >= 0; i-- {
		if !codes[i].IsExpired(now) {
			found := codes[i]
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryOTPStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for phone, codes := range s.codes {
		kept := codes[:0]
		for _, code := range codes {
			if code.IsExpired(now) {
				deleted++
				continue
			}
			kept = append(kept, code)
		}
		if len(kept) == 0 {
			delete(s.codes, phone)
			continue
		}
		s.codes[phone] = kept
	}
	return deleted, nil
}

type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.AuthSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]models.AuthSession)}
}

func (s *MemorySessionStore) Replace(_ context.Context, session *models.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.UserID] = *session
	return nil
}

func (s *MemorySessionStore) GetByUserID(_ context.Context, userID string) (*models.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *MemorySessionStore) DeleteByUserID(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for userID, session := range s.sessions {
		if !now.Before(session.RefreshExpiry) {
			delete(s.sessions, userID)
			deleted++
		}
	}
	return deleted, nil
}

type MemoryUserDirectory struct {
	mu      sync.RWMutex
	byID    map[string]models.User
	byPhone map[string]string
	byEmail map[string]string
}

func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{
		byID:    make(map[string]models.User),
		byPhone: make(map[string]string),
		byEmail: make(map[string]string),
	}
}

func (d *MemoryUserDirectory) GetByID(_ context.Context, id string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(id), nil
}

func (d *MemoryUserDirectory) GetByPhoneNumber(_ context.Context, phoneNumber string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(d.byPhone[phoneNumber]), nil
}

func (d *MemoryUserDirectory) GetByEmail(_ context.Context, email string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(d.byEmail[email]), nil
}

func (d *MemoryUserDirectory) lookup(id string) *models.User {
	if id == "" {
		return nil
	}
	user, ok := d.byID[id]
	if !ok {
		return nil
	}
	return &user
}

func (d *MemoryUserDirectory) Create(_ context.Context, user *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	if _, ok := d.byID[user.ID]; ok {
		return ErrUserExists
	}
	if err := d.checkUnique(user); err != nil {
		return err
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	d.index(user)
	return nil
}

func (d *MemoryUserDirectory) Update(_ context.Context, user *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.byID[user.ID]
	if !ok {
		return fmt.Errorf("user %s not found", user.ID)
	}
	if err := d.checkUnique(user); err != nil {
		return err
	}
	delete(d.byPhone, prev.PhoneNumber)
	delete(d.byEmail, prev.Email)
	user.CreatedAt = prev.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	d.index(user)
	return nil
}

func (d *MemoryUserDirectory) checkUnique(user *models.User) error {
	if owner, ok := d.byPhone[user.PhoneNumber]; ok && user.PhoneNumber != "" && owner != user.ID {
		return ErrUserExists
	}
	if owner, ok := d.byEmail[user.Email]; ok && user.Email != "" && owner != user.ID {
		return ErrUserExists
	}
	return nil
}

func (d *MemoryUserDirectory) index(user *models.User) {
	d.byID[user.ID] = *user
	if user.PhoneNumber != "" {
		d.byPhone[user.PhoneNumber] = user.ID
	}
	if user.Email != "" {
		d.byEmail[user.Email] = user.ID
	}
}
