package devbackend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/physicstutor/tutorportal/internal/models"
)

type profileResponse struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProfileResponse(p models.Profile) profileResponse {
	return profileResponse{
		ID:        p.ID,
		FullName:  p.FullName,
		Email:     p.Email,
		IsAdmin:   p.IsAdmin,
		Status:    p.Status,
		UpdatedAt: p.UpdatedAt,
	}
}

// writableColumns are the profile columns a user may change on their own row
var writableColumns = map[string]bool{
	"full_name":  true,
	"email":      true,
	"updated_at": true,
}

// protectedColumns may only be changed through the admin tooling
var protectedColumns = map[string]bool{
	"is_admin": true,
	"role":     true,
	"status":   true,
	"id":       true,
}

// idFilter parses the id=eq.<value> filter. ok is false for any other
// operator.
func idFilter(c *gin.Context) (id string, present, ok bool) {
	raw, present := c.GetQuery("id")
	if !present {
		return "", false, true
	}
	if !strings.HasPrefix(raw, "eq.") {
		return "", true, false
	}
	return strings.TrimPrefix(raw, "eq."), true, true
}

// restCaller resolves the caller for table requests. A nil claims value
// with ok true is the anonymous role.
func (s *Server) restCaller(c *gin.Context) (*Claims, bool) {
	claims, err := callerClaims(c)
	if err != nil {
		restError(c, http.StatusUnauthorized, "PGRST301", "JWT could not be decoded")
		return nil, false
	}
	return claims, true
}

func (s *Server) isAdmin(userID string) (bool, error) {
	var p models.Profile
	err := models.FindByID(s.db, userID, &p)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.IsAdmin, nil
}

// listProfiles returns the rows visible to the caller: their own row, or
// every row for admins. Anonymous callers see nothing.
func (s *Server) listProfiles(c *gin.Context) {
	claims, ok := s.restCaller(c)
	if !ok {
		return
	}
	id, hasID, ok := idFilter(c)
	if !ok {
		restError(c, http.StatusBadRequest, "PGRST100", "failed to parse filter")
		return
	}

	if claims == nil {
		c.JSON(http.StatusOK, []profileResponse{})
		return
	}

	admin, err := s.isAdmin(claims.Subject)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load caller profile")
		restError(c, http.StatusInternalServerError, "XX000", "internal error")
		return
	}

	query := s.db.Model(&models.Profile{})
	if !admin {
		query = query.Where("id = ?", claims.Subject)
	}
	if hasID {
		query = query.Where("id = ?", id)
	}

	var rows []models.Profile
	if err := query.Order("id").Find(&rows).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list profiles")
		restError(c, http.StatusInternalServerError, "XX000", "internal error")
		return
	}

	out := make([]profileResponse, len(rows))
	for i, row := range rows {
		out[i] = toProfileResponse(row)
	}
	c.JSON(http.StatusOK, out)
}

// updateProfiles applies a partial update to the caller's own row. Rows of
// other users are invisible to the update, as with row-level security.
func (s *Server) updateProfiles(c *gin.Context) {
	claims, ok := s.restCaller(c)
	if !ok {
		return
	}
	if claims == nil {
		restError(c, http.StatusUnauthorized, "42501", "permission denied for table profiles")
		return
	}

	id, hasID, ok := idFilter(c)
	if !ok || !hasID {
		restError(c, http.StatusBadRequest, "PGRST100", "failed to parse filter")
		return
	}

	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		restError(c, http.StatusBadRequest, "PGRST102", "Empty or invalid json")
		return
	}

	updates := map[string]any{}
	for col, v := range fields {
		if protectedColumns[col] {
			s.logger.Warn().Str("user_id", claims.Subject).Str("column", col).Msg("Rejected protected column update")
			restError(c, http.StatusForbidden, "42501", fmt.Sprintf("permission denied for column %s", col))
			return
		}
		if !writableColumns[col] {
			restError(c, http.StatusBadRequest, "PGRST204", fmt.Sprintf("Could not find the '%s' column of 'profiles' in the schema cache", col))
			return
		}
		if col == "updated_at" {
			// Maintained by the database
			continue
		}
		str, ok := v.(string)
		if !ok {
			restError(c, http.StatusBadRequest, "22P02", fmt.Sprintf("invalid input syntax for column %s", col))
			return
		}
		updates[col] = strings.TrimSpace(str)
	}

	if id != claims.Subject {
		c.Status(http.StatusNoContent)
		return
	}

	if len(updates) == 0 {
		updates["updated_at"] = s.now()
	}
	if err := s.db.Model(&models.Profile{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to update profile")
		restError(c, http.StatusInternalServerError, "XX000", "internal error")
		return
	}

	c.Status(http.StatusNoContent)
}
