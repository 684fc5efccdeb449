package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"look-marketplace/internal/models"
)

// StoreAccess decides whether a caller may manage a store's catalog
type StoreAccess interface {
	CanManageStore(ctx context.Context, email string, storeID int64) (bool, error)
}

func respondError(c *gin.Context, status int, code string, detail ...string) {
	resp := models.ErrorResponse{OK: false, Error: code}
	if len(detail) > 0 {
		resp.Detail = strings.Join(detail, "; ")
	}
	c.AbortWithStatusJSON(status, resp)
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// authorizeStore writes the failure response itself and reports whether the
// handler may continue. A nil checker lets everything through.
func authorizeStore(c *gin.Context, access StoreAccess, storeID int64) bool {
	if access == nil {
		return true
	}
	allowed, err := access.CanManageStore(c.Request.Context(), c.GetString("user_email"), storeID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "access_check_failed", err.Error())
		return false
	}
	if !allowed {
		respondError(c, http.StatusForbidden, "forbidden_store")
		return false
	}
	return true
}
