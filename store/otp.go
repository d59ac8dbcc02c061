package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-ecommerce-auth/models"
)

// OtpStore keeps at most one OTP document per user. Expired documents are
// removed by the TTL index on valid_until; Find also ignores documents the
// TTL monitor has not swept yet.
type OtpStore struct {
	collection *mongo.Collection
}

func NewOtpStore(db *mongo.Database) *OtpStore {
	return NewOtpStoreWithCollection(db.Collection(OtpCollection))
}

func NewOtpStoreWithCollection(collection *mongo.Collection) *OtpStore {
	return &OtpStore{collection: collection}
}

// Upsert stores code as the user's only OTP, replacing any previous one.
func (s *OtpStore) Upsert(ctx context.Context, userID primitive.ObjectID, code string, validUntil time.Time) (*models.OtpCode, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var otp models.OtpCode
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"user": userID},
		bson.M{"$set": bson.M{"otp": code, "valid_until": validUntil.UTC()}},
		opts,
	).Decode(&otp)
	if err != nil {
		return nil, fmt.Errorf("upsert otp: %w", err)
	}
	return &otp, nil
}

// Find returns the user's OTP if it equals code and is still valid at now.
func (s *OtpStore) Find(ctx context.Context, userID primitive.ObjectID, code string, now time.Time) (*models.OtpCode, error) {
	var otp models.OtpCode
	err := s.collection.FindOne(ctx, bson.M{
		"user":        userID,
		"otp":         code,
		"valid_until": bson.M{"$gt": now.UTC()},
	}).Decode(&otp)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find otp: %w", err)
	}
	return &otp, nil
}
