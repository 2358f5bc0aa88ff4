package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// PersistedState is the whitelisted identity snapshot of one application
// instance, stored under a namespaced key (e.g. "physics-auth:<visitor>")
type PersistedState struct {
	Key       string    `gorm:"primaryKey;column:state_key"`
	Payload   string    `gorm:"type:text;not null"` // JSON of session.Persisted
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// VisitorToken holds the backend session tokens of one visitor
type VisitorToken struct {
	VisitorID    string    `gorm:"primaryKey"`
	AccessToken  string    `gorm:"type:text;not null"`
	RefreshToken string    `gorm:"type:text;not null"`
	ExpiresAt    int64     `gorm:"not null"`
	UserJSON     string    `gorm:"type:text;not null"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// AuthUser is an account in the local stand-in backend
type AuthUser struct {
	BaseModel
	Email            string     `gorm:"unique;not null"`
	PasswordHash     string     `gorm:"not null"`
	EmailConfirmedAt *time.Time
	Metadata         string    `gorm:"type:text"` // JSON user_metadata
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// Profile is the profiles table of the local stand-in backend
type Profile struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)"`
	FullName  string    `gorm:"not null;default:''"`
	Email     string    `gorm:"not null"`
	IsAdmin   bool      `gorm:"not null;default:false"`
	Status    string    `gorm:"not null;default:'active'"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// RefreshToken is an opaque, single-use refresh token
type RefreshToken struct {
	BaseModel
	Token     string `gorm:"unique;not null"`
	UserID    string `gorm:"index;not null"`
	Revoked   bool   `gorm:"not null;default:false"`
	ExpiresAt time.Time
}

// AutoMigrateFrontend migrates the web frontend's local state tables
func AutoMigrateFrontend(db *gorm.DB) error {
	return db.AutoMigrate(&PersistedState{}, &VisitorToken{})
}

// AutoMigrateBackend migrates the stand-in backend's tables
func AutoMigrateBackend(db *gorm.DB) error {
	return db.AutoMigrate(&AuthUser{}, &Profile{}, &RefreshToken{})
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}
