package controllers

import (
	"net/http"

	"go-ecommerce-auth/models"
	"go-ecommerce-auth/utils"
)

// UserController handles user listing and account status requests
type UserController struct {
	Users     UserStore
	Responder *utils.Responder
}

// NewUserController creates a new UserController
func NewUserController(users UserStore, responder *utils.Responder) *UserController {
	return &UserController{Users: users, Responder: responder}
}

// AllUsers returns every user. Admin only.
func (uc *UserController) AllUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := uc.Users.List(r.Context())
	if err != nil {
		return err
	}

	data := make([]models.User, 0, len(users))
	for _, u := range users {
		data = append(data, u.Sanitized())
	}

	uc.Responder.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
	return nil
}

// HaveVerified confirms that the caller passed the verification gate.
func (uc *UserController) HaveVerified(w http.ResponseWriter, r *http.Request) error {
	uc.Responder.JSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "User has been verified.",
	})
	return nil
}
