package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OtpCode is the one outstanding verification code of a user. The
// valid_until field carries a TTL index, so Mongo removes the document once it
// has passed.
type OtpCode struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	User       primitive.ObjectID `bson:"user" json:"user"`
	Otp        string             `bson:"otp" json:"-"`
	ValidUntil time.Time          `bson:"valid_until" json:"validUntil"`
}
