package devbackend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/physicstutor/tutorportal/internal/models"
	"github.com/physicstutor/tutorportal/internal/validation"
)

type credentialsRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data"`
}

type userResponse struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud"`
	Role             string         `json:"role"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func toUserResponse(u *models.AuthUser) userResponse {
	meta := map[string]any{}
	if u.Metadata != "" {
		_ = json.Unmarshal([]byte(u.Metadata), &meta)
	}
	return userResponse{
		ID:               u.ID,
		Aud:              roleAuthenticated,
		Role:             roleAuthenticated,
		Email:            u.Email,
		EmailConfirmedAt: u.EmailConfirmedAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
		UserMetadata:     meta,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Server) signUp(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}

	email := normalizeEmail(req.Email)
	if !validation.Email(email) {
		authError(c, http.StatusBadRequest, "validation_failed", "Unable to validate email address: invalid format")
		return
	}
	if len(req.Password) < minPasswordLength {
		authError(c, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters.")
		return
	}
	if !s.allow(email) {
		authError(c, http.StatusTooManyRequests, "over_email_send_rate_limit", "Email rate limit exceeded")
		return
	}

	var count int64
	if err := s.db.Model(&models.AuthUser{}).Where("email = ?", email).Count(&count).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to look up user")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Database error checking email")
		return
	}
	if count > 0 {
		authError(c, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}

	user, err := s.createUser(email, req.Password, req.Data, false)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create user")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Database error saving new user")
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User signed up")

	if user.EmailConfirmedAt == nil {
		c.JSON(http.StatusOK, toUserResponse(user))
		return
	}

	sess, err := s.startSession(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start session")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Failed to issue session")
		return
	}
	c.JSON(http.StatusOK, sess)
}

// createUser inserts the account and its profile row in one transaction.
// The profile starts as a non-admin with the display name from metadata.
func (s *Server) createUser(email, password string, meta map[string]any, isAdmin bool) (*models.AuthUser, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	metaJSON := "{}"
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		metaJSON = string(b)
	}

	user := &models.AuthUser{
		Email:        email,
		PasswordHash: hash,
		Metadata:     metaJSON,
	}
	if s.opts.Autoconfirm {
		now := s.now().UTC()
		user.EmailConfirmedAt = &now
	}

	fullName, _ := meta["full_name"].(string)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&models.Profile{
			ID:       user.ID,
			FullName: strings.TrimSpace(fullName),
			Email:    email,
			IsAdmin:  isAdmin,
			Status:   "active",
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Server) token(c *gin.Context) {
	switch c.Query("grant_type") {
	case "password":
		s.passwordGrant(c)
	case "refresh_token":
		s.refreshGrant(c)
	default:
		authError(c, http.StatusBadRequest, "unsupported_grant_type", "unsupported_grant_type")
	}
}

func (s *Server) passwordGrant(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}

	var user models.AuthUser
	err := s.db.Where("email = ?", normalizeEmail(req.Email)).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error().Err(err).Msg("Failed to find user")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Database error querying schema")
		return
	}
	if err != nil || s.hasher.Compare(user.PasswordHash, req.Password) != nil {
		authError(c, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
		return
	}
	if user.EmailConfirmedAt == nil {
		authError(c, http.StatusBadRequest, "email_not_confirmed", "Email not confirmed")
		return
	}

	sess, err := s.startSession(&user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start session")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Failed to issue session")
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User signed in")
	c.JSON(http.StatusOK, sess)
}

// refreshGrant rotates a refresh token. Each token is accepted once.
func (s *Server) refreshGrant(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		authError(c, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
		return
	}

	var user models.AuthUser
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).
			Where("token = ? AND revoked = ? AND expires_at > ?", req.RefreshToken, false, s.now()).
			Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var rt models.RefreshToken
		if err := tx.Where("token = ?", req.RefreshToken).First(&rt).Error; err != nil {
			return err
		}
		return models.FindByID(tx, rt.UserID, &user)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		authError(c, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to rotate refresh token")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Database error granting user")
		return
	}

	sess, err := s.startSession(&user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start session")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Failed to issue session")
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) startSession(user *models.AuthUser) (*sessionResponse, error) {
	access, expiresAt, err := s.issuer.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	rt := &models.RefreshToken{
		Token:     ulid.Make().String(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(refreshTokenTTL),
	}
	if err := s.db.Create(rt).Error; err != nil {
		return nil, err
	}

	return &sessionResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.opts.AccessTTL / time.Second),
		ExpiresAt:    expiresAt.Unix(),
		RefreshToken: rt.Token,
		User:         toUserResponse(user),
	}, nil
}

// requireUser loads the caller's account or aborts with 401
func (s *Server) requireUser(c *gin.Context) (*models.AuthUser, bool) {
	claims, err := callerClaims(c)
	if err != nil {
		authError(c, http.StatusUnauthorized, "bad_jwt", "invalid JWT: unable to parse or verify signature, "+err.Error())
		return nil, false
	}
	if claims == nil {
		authError(c, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
		return nil, false
	}

	var user models.AuthUser
	if err := models.FindByID(s.db, claims.Subject, &user); err != nil {
		authError(c, http.StatusForbidden, "user_not_found", "User from sub claim in JWT does not exist")
		return nil, false
	}
	return &user, true
}

func (s *Server) logout(c *gin.Context) {
	user, ok := s.requireUser(c)
	if !ok {
		return
	}

	if err := s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", user.ID, false).
		Update("revoked", true).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to revoke refresh tokens")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Database error revoking sessions")
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User signed out")
	c.Status(http.StatusNoContent)
}

// recoverPassword accepts any address so existence is not revealed. The
// reset link is only logged.
func (s *Server) recoverPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}

	email := normalizeEmail(req.Email)
	if !validation.Email(email) {
		authError(c, http.StatusBadRequest, "validation_failed", "Unable to validate email address: invalid format")
		return
	}
	if !s.allow(email) {
		authError(c, http.StatusTooManyRequests, "over_email_send_rate_limit", "Email rate limit exceeded")
		return
	}

	s.logger.Info().
		Str("email", email).
		Str("redirect_to", c.Query("redirect_to")).
		Msg("Password recovery requested")
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) getUser(c *gin.Context) {
	user, ok := s.requireUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (s *Server) updateUser(c *gin.Context) {
	user, ok := s.requireUser(c)
	if !ok {
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}
	if len(req.Password) < minPasswordLength {
		authError(c, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters.")
		return
	}
	if s.hasher.Compare(user.PasswordHash, req.Password) == nil {
		authError(c, http.StatusUnprocessableEntity, "same_password", "New password should be different from the old password.")
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Failed to update password")
		return
	}
	if err := s.db.Model(user).Update("password_hash", hash).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to update password")
		authError(c, http.StatusInternalServerError, "unexpected_failure", "Failed to update password")
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("Password updated")
	c.JSON(http.StatusOK, toUserResponse(user))
}
