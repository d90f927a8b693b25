package handlers

import (
	"time"

	"github.com/clouddrive/server/internal/auth"
	"github.com/clouddrive/server/internal/model"
)

// userResponse is the merged credential and profile returned to clients
type userResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	Name             string     `json:"name"`
	PhoneNumber      *string    `json:"phone_number"`
	EmailVerified    bool       `json:"email_verified"`
	PhoneVerified    bool       `json:"phone_verified"`
}

func toUserResponse(acc auth.Account) userResponse {
	return userResponse{
		ID:               acc.User.ID.String(),
		Email:            acc.User.Email,
		EmailConfirmedAt: acc.User.EmailConfirmedAt,
		CreatedAt:        acc.User.CreatedAt,
		Name:             acc.Profile.Name,
		PhoneNumber:      acc.Profile.PhoneNumber,
		EmailVerified:    acc.Profile.EmailVerified,
		PhoneVerified:    acc.Profile.PhoneVerified,
	}
}

type activityResponse struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *string        `json:"resource_id"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toActivityResponse(a model.Activity) activityResponse {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return activityResponse{
		ID:           a.ID.String(),
		UserID:       a.UserID.String(),
		Action:       a.Action,
		ResourceType: a.ResourceType,
		ResourceID:   a.ResourceID,
		Metadata:     meta,
		CreatedAt:    a.CreatedAt,
	}
}
