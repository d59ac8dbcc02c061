package store

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-ecommerce-auth/models"
	"go-ecommerce-auth/utils"
)

// NewUser holds the fields accepted when creating an account.
type NewUser struct {
	Username  string
	Email     string
	Password  string
	Phone     string
	Addresses []models.Address
}

// UserStore persists users in MongoDB. Password hashes are never returned
// unless explicitly asked for.
type UserStore struct {
	collection *mongo.Collection
	meta       *mongo.Collection
	now        func() time.Time
}

// NewUserStore creates a UserStore on the users collection of db.
func NewUserStore(db *mongo.Database) *UserStore {
	return NewUserStoreWithCollection(db.Collection(UsersCollection))
}

// NewUserStoreWithCollection creates a UserStore on an explicit collection.
// The admin claim lives in the meta collection of the same database.
func NewUserStoreWithCollection(collection *mongo.Collection) *UserStore {
	return &UserStore{
		collection: collection,
		meta:       collection.Database().Collection(MetaCollection),
		now:        time.Now,
	}
}

// adminClaimID keys the singleton document owned by the first admin.
const adminClaimID = "first_admin"

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateNewUser checks the account fields. It returns a validation
// AppError listing every problem found.
func ValidateNewUser(in NewUser) error {
	var problems []string

	username := strings.TrimSpace(in.Username)
	switch n := utf8.RuneCountInString(username); {
	case n == 0:
		problems = append(problems, "Username is required")
	case n < 3:
		problems = append(problems, "Username must be at least 3 characters long")
	case n > 50:
		problems = append(problems, "Username cannot exceed 50 characters")
	}

	email := NormalizeEmail(in.Email)
	if email == "" {
		problems = append(problems, "Email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		problems = append(problems, fmt.Sprintf("%s is not a valid email!", in.Email))
	}

	if in.Password == "" {
		problems = append(problems, "Password is required")
	} else if len(in.Password) < 6 {
		problems = append(problems, "Password must be at least 6 characters long")
	}

	if strings.TrimSpace(in.Phone) == "" {
		problems = append(problems, "Phone number is required")
	}

	for i, a := range in.Addresses {
		if a.FullName == "" || a.StreetAddress == "" || a.City == "" || a.State == "" ||
			a.PostalCode == "" || a.Country == "" || a.Phone == "" {
			problems = append(problems, fmt.Sprintf("Address %d is incomplete", i+1))
		}
	}

	if len(problems) > 0 {
		return utils.ValidationError(strings.Join(problems, ", "))
	}
	return nil
}

// Create validates and inserts a new user, hashing the password. The first
// user of an empty store becomes admin: every registration that saw an empty
// collection races to insert the admin claim, and only the winner is
// promoted. Uniqueness of username and email is enforced by the
// collection's unique indexes.
func (s *UserStore) Create(ctx context.Context, in NewUser) (*models.User, error) {
	if err := ValidateNewUser(in); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	count, err := s.collection.CountDocuments(ctx, bson.D{}, options.Count().SetLimit(1))
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	addresses := in.Addresses
	if addresses == nil {
		addresses = []models.Address{}
	}
	now := s.now().UTC()
	user := models.User{
		ID:        primitive.NewObjectID(),
		Username:  strings.TrimSpace(in.Username),
		Email:     NormalizeEmail(in.Email),
		Password:  hashed,
		Role:      models.RoleUser,
		Phone:     strings.TrimSpace(in.Phone),
		Addresses: addresses,
		Orders:    []models.Order{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.collection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, duplicateUserError(err)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if count == 0 {
		promoted, err := s.claimAdmin(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if promoted {
			user.Role = models.RoleAdmin
		}
	}

	user.Password = ""
	return &user, nil
}

// claimAdmin inserts the singleton admin claim for id and, if it won,
// promotes the user. A duplicate claim means another user got there first.
func (s *UserStore) claimAdmin(ctx context.Context, id primitive.ObjectID) (bool, error) {
	_, err := s.meta.InsertOne(ctx, bson.M{"_id": adminClaimID, "user": id, "claimed_at": s.now().UTC()})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("claim admin: %w", err)
	}

	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"role": models.RoleAdmin}})
	if err != nil {
		return false, fmt.Errorf("promote admin: %w", err)
	}
	return true, nil
}

func duplicateUserError(err error) error {
	msg := "User with this username or email already exists."
	switch duplicateIndex(err) {
	case "email_1":
		msg = "User with this email already exists."
	case "username_1":
		msg = "User with this username already exists."
	}
	return utils.DuplicateError(msg, fmt.Errorf("%w: %v", ErrDuplicate, err))
}

// duplicateIndex returns the name of the unique index an E11000 error names,
// e.g. "email_1" from "... index: email_1 dup key: { ... }".
func duplicateIndex(err error) string {
	msg := err.Error()
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				msg = e.Message
				break
			}
		}
	}
	_, rest, ok := strings.Cut(msg, "index: ")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, " ")
	return name
}

// ExistsByEmail reports whether an account uses email.
func (s *UserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"email": NormalizeEmail(email)}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count users by email: %w", err)
	}
	return count > 0, nil
}

// FindByEmail loads a user by email. The password hash is only included
// when withPassword is set.
func (s *UserStore) FindByEmail(ctx context.Context, email string, withPassword bool) (*models.User, error) {
	opts := options.FindOne()
	if !withPassword {
		opts.SetProjection(bson.M{"password": 0})
	}
	return s.findOne(ctx, bson.M{"email": NormalizeEmail(email)}, opts)
}

// FindByID loads a user by its hex id, without the password hash.
func (s *UserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(bson.M{"password": 0}))
}

// FindByRefreshToken loads the user currently holding token.
func (s *UserStore) FindByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"refresh_token": token}, options.FindOne().SetProjection(bson.M{"password": 0}))
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*models.User, error) {
	var user models.User
	err := s.collection.FindOne(ctx, filter, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// List returns all users ordered by creation, without password hashes.
func (s *UserStore) List(ctx context.Context) ([]models.User, error) {
	opts := options.Find().
		SetProjection(bson.M{"password": 0, "refresh_token": 0}).
		SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cursor.Close(ctx)

	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// SetRefreshToken overwrites the user's refresh token. An empty token
// clears it.
func (s *UserStore) SetRefreshToken(ctx context.Context, id primitive.ObjectID, token string) error {
	update := bson.M{"$set": bson.M{"refresh_token": token, "updated_at": s.now().UTC()}}
	if token == "" {
		update = bson.M{
			"$unset": bson.M{"refresh_token": ""},
			"$set":   bson.M{"updated_at": s.now().UTC()},
		}
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateRefreshToken replaces current with next only if current is still
// the stored token. ErrStaleToken means another request rotated or
// cleared it first.
func (s *UserStore) RotateRefreshToken(ctx context.Context, id primitive.ObjectID, current, next string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "refresh_token": current},
		bson.M{"$set": bson.M{"refresh_token": next, "updated_at": s.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrStaleToken
	}
	return nil
}

// SetVerified marks the user's email as verified at the given instant.
func (s *UserStore) SetVerified(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"is_verified":       true,
		"email_verified_at": at.UTC(),
		"updated_at":        s.now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePassword hashes plain and stores it as the user's new password.
// Existing sessions are revoked.
func (s *UserStore) UpdatePassword(ctx context.Context, id primitive.ObjectID, plain string) error {
	if len(plain) < 6 {
		return utils.ValidationError("Password must be at least 6 characters long")
	}
	hashed, err := utils.HashPassword(plain)
	if err != nil {
		return err
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"password": hashed, "updated_at": s.now().UTC()},
		"$unset": bson.M{"refresh_token": ""},
	})
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
