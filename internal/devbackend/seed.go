package devbackend

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/physicstutor/tutorportal/internal/models"
)

// SeedFile lists accounts to create on startup
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser is one seeded account
type SeedUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	FullName string `yaml:"full_name"`
	IsAdmin  bool   `yaml:"is_admin"`
}

// LoadSeedFile reads a YAML seed file
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// Seed creates the listed accounts. Existing emails are left untouched, so
// seeding is idempotent. Seeded accounts are always confirmed.
func (s *Server) Seed(seed *SeedFile) error {
	for _, u := range seed.Users {
		email := normalizeEmail(u.Email)
		if email == "" || len(u.Password) < minPasswordLength {
			return fmt.Errorf("seed user %q: email and a password of at least %d characters are required", u.Email, minPasswordLength)
		}

		var count int64
		if err := s.db.Model(&models.AuthUser{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to look up seed user %s: %w", email, err)
		}
		if count > 0 {
			continue
		}

		user, err := s.createUser(email, u.Password, map[string]any{"full_name": u.FullName}, u.IsAdmin)
		if err != nil {
			return fmt.Errorf("failed to create seed user %s: %w", email, err)
		}
		if user.EmailConfirmedAt == nil {
			now := s.now().UTC()
			if err := s.db.Model(user).Update("email_confirmed_at", &now).Error; err != nil {
				return fmt.Errorf("failed to confirm seed user %s: %w", email, err)
			}
		}

		s.logger.Info().Str("email", email).Bool("is_admin", u.IsAdmin).Msg("Seeded user")
	}
	return nil
}
