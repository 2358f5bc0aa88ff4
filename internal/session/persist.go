package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/physicstutor/tutorportal/internal/models"
)

// StorageKey namespaces the persisted identity snapshot
const StorageKey = "physics-auth"

// Persisted is the only part of the store that survives a reload. The
// loading flag is deliberately absent.
type Persisted struct {
	User    *User    `json:"user"`
	Profile *Profile `json:"profile"`
}

// Persister stores the identity snapshot. Load returns nil, nil when
// nothing has been saved.
type Persister interface {
	Load(ctx context.Context) (*Persisted, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

// FilePersister keeps the snapshot in a JSON file
type FilePersister struct {
	Path string
}

// DefaultFilePath returns ~/.config/tutorportal/physics-auth.json
func DefaultFilePath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "tutorportal", StorageKey+".json"), nil
}

func (f *FilePersister) Load(ctx context.Context) (*Persisted, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return &p, nil
}

func (f *FilePersister) Save(ctx context.Context, p Persisted) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.WriteFile(f.Path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (f *FilePersister) Clear(ctx context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// GormPersister keeps the snapshot in the persisted_states table
type GormPersister struct {
	db  *gorm.DB
	key string
}

// NewGormPersister stores under StorageKey + ":" + scope
func NewGormPersister(db *gorm.DB, scope string) *GormPersister {
	key := StorageKey
	if scope != "" {
		key = StorageKey + ":" + scope
	}
	return &GormPersister{db: db, key: key}
}

func (g *GormPersister) Load(ctx context.Context) (*Persisted, error) {
	var row models.PersistedState
	err := g.db.WithContext(ctx).Where("state_key = ?", g.key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted state: %w", err)
	}

	var p Persisted
	if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
		return nil, fmt.Errorf("failed to parse persisted state: %w", err)
	}
	return &p, nil
}

func (g *GormPersister) Save(ctx context.Context, p Persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal persisted state: %w", err)
	}

	row := models.PersistedState{Key: g.key, Payload: string(data)}
	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save persisted state: %w", err)
	}
	return nil
}

func (g *GormPersister) Clear(ctx context.Context) error {
	if err := g.db.WithContext(ctx).Where("state_key = ?", g.key).Delete(&models.PersistedState{}).Error; err != nil {
		return fmt.Errorf("failed to clear persisted state: %w", err)
	}
	return nil
}
