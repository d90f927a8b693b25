package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/clouddrive/server/internal/model"
	"github.com/google/uuid"
)

// ActivityRepo defines the interface for activity log operations
type ActivityRepo interface {
	Create(ctx context.Context, a model.Activity) (model.Activity, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Activity, error)
}

type activityRepo struct {
	db *sql.DB
}

// NewActivityRepo creates a new ActivityRepo instance
func NewActivityRepo(db *sql.DB) ActivityRepo {
	return &activityRepo{db: db}
}

// Create appends an entry to the user's activity log
func (r *activityRepo) Create(ctx context.Context, a model.Activity) (model.Activity, error) {
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return model.Activity{}, fmt.Errorf("encode metadata: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO activity_logs (user_id, action, resource_type, resource_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, a.UserID, a.Action, a.ResourceType, a.ResourceID, string(meta)).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return model.Activity{}, fmt.Errorf("failed to create activity: %w", err)
	}
	return a, nil
}

// ListByUser returns at most limit entries for the user, newest first
func (r *activityRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, resource_type, resource_id, metadata, created_at
		FROM activity_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	activities := []model.Activity{}
	for rows.Next() {
		var a model.Activity
		var meta []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.ResourceType, &a.ResourceID, &meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
