package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/physicstutor/tutorportal/internal/models"
)

// GormTokenStore keeps one visitor's session in the visitor_tokens table
type GormTokenStore struct {
	db        *gorm.DB
	visitorID string
}

// NewGormTokenStore creates a token store for visitorID
func NewGormTokenStore(db *gorm.DB, visitorID string) *GormTokenStore {
	return &GormTokenStore{db: db, visitorID: visitorID}
}

func (g *GormTokenStore) LoadSession(ctx context.Context) (*Session, error) {
	var row models.VisitorToken
	err := g.db.WithContext(ctx).Where("visitor_id = ?", g.visitorID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load visitor session: %w", err)
	}

	sess := &Session{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		TokenType:    "bearer",
		ExpiresAt:    row.ExpiresAt,
	}
	if err := json.Unmarshal([]byte(row.UserJSON), &sess.User); err != nil {
		return nil, fmt.Errorf("failed to parse visitor session user: %w", err)
	}
	return sess, nil
}

func (g *GormTokenStore) SaveSession(ctx context.Context, sess *Session) error {
	user, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("failed to marshal session user: %w", err)
	}

	row := models.VisitorToken{
		VisitorID:    g.visitorID,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.ExpiresAt,
		UserJSON:     string(user),
	}
	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "visitor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_at", "user_json", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save visitor session: %w", err)
	}
	return nil
}

func (g *GormTokenStore) DeleteSession(ctx context.Context) error {
	if err := g.db.WithContext(ctx).Where("visitor_id = ?", g.visitorID).Delete(&models.VisitorToken{}).Error; err != nil {
		return fmt.Errorf("failed to delete visitor session: %w", err)
	}
	return nil
}
