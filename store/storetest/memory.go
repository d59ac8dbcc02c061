// Package storetest provides in-memory versions of the Mongo stores for
// tests. They keep the same contracts: unique usernames and emails, first
// user is admin, one OTP per user, password hashes hidden by default.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-ecommerce-auth/models"
	"go-ecommerce-auth/store"
	"go-ecommerce-auth/utils"
)

// Users is an in-memory credential store.
type Users struct {
	mu    sync.Mutex
	users map[primitive.ObjectID]*models.User
	Now   func() time.Time
}

func NewUsers() *Users {
	return &Users{users: make(map[primitive.ObjectID]*models.User), Now: time.Now}
}

func (s *Users) Create(_ context.Context, in store.NewUser) (*models.User, error) {
	if err := store.ValidateNewUser(in); err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := store.NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	for _, u := range s.users {
		if u.Email == email {
			return nil, utils.DuplicateError("User with this email already exists.", store.ErrDuplicate)
		}
		if u.Username == username {
			return nil, utils.DuplicateError("User with this username already exists.", store.ErrDuplicate)
		}
	}

	role := models.RoleUser
	if len(s.users) == 0 {
		role = models.RoleAdmin
	}
	now := s.Now().UTC()
	u := &models.User{
		ID:        primitive.NewObjectID(),
		Username:  username,
		Email:     email,
		Password:  hashed,
		Role:      role,
		Phone:     strings.TrimSpace(in.Phone),
		Addresses: append([]models.Address{}, in.Addresses...),
		Orders:    []models.Order{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[u.ID] = u

	out := *u
	out.Password = ""
	return &out, nil
}

func (s *Users) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = store.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *Users) FindByEmail(_ context.Context, email string, withPassword bool) (*models.User, error) {
	email = store.NormalizeEmail(email)
	return s.find(func(u *models.User) bool { return u.Email == email }, withPassword)
}

func (s *Users) FindByID(_ context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return s.find(func(u *models.User) bool { return u.ID == oid }, false)
}

func (s *Users) FindByRefreshToken(_ context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return s.find(func(u *models.User) bool { return u.RefreshToken == token }, false)
}

func (s *Users) find(match func(*models.User) bool, withPassword bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			out := *u
			if !withPassword {
				out.Password = ""
			}
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Users) List(context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		cp.Password = ""
		cp.RefreshToken = ""
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (s *Users) SetRefreshToken(_ context.Context, id primitive.ObjectID, token string) error {
	return s.update(id, func(u *models.User) error {
		u.RefreshToken = token
		return nil
	})
}

func (s *Users) RotateRefreshToken(_ context.Context, id primitive.ObjectID, current, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.RefreshToken != current {
		return store.ErrStaleToken
	}
	u.RefreshToken = next
	u.UpdatedAt = s.Now().UTC()
	return nil
}

func (s *Users) SetVerified(_ context.Context, id primitive.ObjectID, at time.Time) error {
	return s.update(id, func(u *models.User) error {
		at := at.UTC()
		u.IsVerified = true
		u.EmailVerifiedAt = &at
		return nil
	})
}

func (s *Users) UpdatePassword(_ context.Context, id primitive.ObjectID, plain string) error {
	if len(plain) < 6 {
		return utils.ValidationError("Password must be at least 6 characters long")
	}
	hashed, err := utils.HashPassword(plain)
	if err != nil {
		return err
	}
	return s.update(id, func(u *models.User) error {
		u.Password = hashed
		u.RefreshToken = ""
		return nil
	})
}

func (s *Users) update(id primitive.ObjectID, fn func(*models.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = s.Now().UTC()
	return nil
}

// Get returns the raw stored record, hash and token included.
func (s *Users) Get(id primitive.ObjectID) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}

// Otps is an in-memory OTP store. Records past valid_until are dropped on
// access, standing in for Mongo's TTL monitor.
type Otps struct {
	mu    sync.Mutex
	codes map[primitive.ObjectID]models.OtpCode
}

func NewOtps() *Otps {
	return &Otps{codes: make(map[primitive.ObjectID]models.OtpCode)}
}

func (s *Otps) Upsert(_ context.Context, userID primitive.ObjectID, code string, validUntil time.Time) (*models.OtpCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[userID]
	if !ok {
		rec = models.OtpCode{ID: primitive.NewObjectID(), User: userID}
	}
	rec.Otp = code
	rec.ValidUntil = validUntil.UTC()
	s.codes[userID] = rec
	out := rec
	return &out, nil
}

func (s *Otps) Find(_ context.Context, userID primitive.ObjectID, code string, now time.Time) (*models.OtpCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !now.Before(rec.ValidUntil) {
		delete(s.codes, userID)
		return nil, store.ErrNotFound
	}
	if rec.Otp != code {
		return nil, store.ErrNotFound
	}
	out := rec
	return &out, nil
}

// Code returns the current code for userID.
func (s *Otps) Code(userID primitive.ObjectID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[userID]
	if !ok {
		return "", fmt.Errorf("no otp for %s", userID.Hex())
	}
	return rec.Otp, nil
}

// Mailer records emails instead of sending them.
type Mailer struct {
	mu   sync.Mutex
	Sent []utils.Email
	Err  error
}

func (m *Mailer) SendEmail(_ context.Context, email utils.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, email)
	return nil
}

// Emails returns a copy of the recorded emails.
func (m *Mailer) Emails() []utils.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]utils.Email(nil), m.Sent...)
}
