package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pandebugger-api/internal/middleware"
	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

// actorID returns the authenticated user id.
func actorID(c *gin.Context) (int64, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID <= 0 {
		return 0, appErrors.ErrUnauthorized
	}
	return claims.UserID, nil
}

func pathID(c *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clonef(appErrors.ErrValidation, "%s must be a positive integer", name)
	}
	return id, nil
}

func queryInt64(c *gin.Context, name string) (*int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "%s must be an integer", name)
	}
	return &v, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErrors.Clonef(appErrors.ErrValidation, "%s must be an integer", name)
	}
	return v, nil
}

func queryString(c *gin.Context, name string) *string {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	return &raw
}

// expectedVersion reads the If-Match header. Both `"3"` and `3` are accepted; weak validators
// are rejected.
func expectedVersion(c *gin.Context) (*int64, error) {
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "W/") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "If-Match must be a strong version tag")
	}
	v, err := strconv.ParseInt(strings.Trim(raw, `"`), 10, 64)
	if err != nil || v <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "If-Match must carry a book version")
	}
	return &v, nil
}

func setETag(c *gin.Context, version int64) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

// invalidPayload reports a body that could not be bound. Type mismatches name the offending field.
func invalidPayload(err error, message string) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		message = fmt.Sprintf("%s: %s must be of type %s", message, typeErr.Field, typeErr.Type.Kind())
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
}
