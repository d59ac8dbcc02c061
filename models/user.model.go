package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Address represents a user's delivery address. Addresses live inside the
// user document and have no identity of their own.
type Address struct {
	FullName      string `bson:"full_name" json:"fullName"`
	StreetAddress string `bson:"street_address" json:"streetAddress"`
	City          string `bson:"city" json:"city"`
	State         string `bson:"state" json:"state"`
	PostalCode    string `bson:"postal_code" json:"postalCode"`
	Country       string `bson:"country" json:"country"`
	Phone         string `bson:"phone" json:"phone"`
}

// User represents a user in the system
type User struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Username        string             `bson:"username" json:"username"`
	Email           string             `bson:"email" json:"email"`
	Password        string             `bson:"password,omitempty" json:"-"`
	Role            Role               `bson:"role" json:"role"`
	Phone           string             `bson:"phone" json:"phone"`
	Addresses       []Address          `bson:"addresses" json:"addresses"`
	Orders          []Order            `bson:"orders" json:"orders"`
	IsVerified      bool               `bson:"is_verified" json:"isVerified"`
	EmailVerifiedAt *time.Time         `bson:"email_verified_at,omitempty" json:"emailVerifiedAt,omitempty"`
	RefreshToken    string             `bson:"refresh_token,omitempty" json:"-"`
	CreatedAt       time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updatedAt"`
}

// Verified reports whether the account passed email verification.
func (u *User) Verified() bool {
	return u.IsVerified && u.EmailVerifiedAt != nil && !u.EmailVerifiedAt.IsZero()
}

// Sanitized returns a copy of the user without credential material.
func (u User) Sanitized() User {
	u.Password = ""
	u.RefreshToken = ""
	return u
}
