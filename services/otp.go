package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-ecommerce-auth/models"
	"go-ecommerce-auth/store"
	"go-ecommerce-auth/utils"
)

// OtpRepository is the persistence the OTP service needs.
type OtpRepository interface {
	Upsert(ctx context.Context, userID primitive.ObjectID, code string, validUntil time.Time) (*models.OtpCode, error)
	Find(ctx context.Context, userID primitive.ObjectID, code string, now time.Time) (*models.OtpCode, error)
}

// OtpService generates and checks one-time email verification codes.
type OtpService struct {
	repo     OtpRepository
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

func NewOtpService(repo OtpRepository, ttl time.Duration) *OtpService {
	return &OtpService{
		repo:     repo,
		ttl:      ttl,
		now:      time.Now,
		generate: utils.GenerateOtpCode,
	}
}

// WithClock returns a copy of the service reading time from now.
func (s *OtpService) WithClock(now func() time.Time) *OtpService {
	cp := *s
	cp.now = now
	return &cp
}

// TTL is how long a generated code stays valid.
func (s *OtpService) TTL() time.Duration {
	return s.ttl
}

// Generate creates a fresh code for userID, replacing any outstanding one.
func (s *OtpService) Generate(ctx context.Context, userID primitive.ObjectID) (*models.OtpCode, error) {
	code, err := s.generate()
	if err != nil {
		return nil, err
	}
	return s.repo.Upsert(ctx, userID, code, s.now().Add(s.ttl))
}

// Verify succeeds when code is the user's current, unexpired OTP. Unknown,
// replaced and expired codes all fail with the same InvalidOtp error.
func (s *OtpService) Verify(ctx context.Context, userID primitive.ObjectID, code string) error {
	if code == "" {
		return utils.ValidationError("Please provide otp code.")
	}
	_, err := s.repo.Find(ctx, userID, code, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.InvalidOtpError()
		}
		return err
	}
	return nil
}
