package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterSessionRoutes registers the endpoints for inspecting and ending
// the caller's session.
func RegisterSessionRoutes(g *echo.Group, store RevocationStore) {
	g.GET("/session", handleSession)
	g.POST("/session/revoke", handleRevokeSession(store))
}

func handleSession(c echo.Context) error {
	id, err := RequireIdentity(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": id})
}

// handleRevokeSession signs the caller out by revoking the presented token.
func handleRevokeSession(store RevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id, err := RequireIdentity(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		if id.TokenID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "token has no id and cannot be revoked")
		}

		if id.ExpiresAt.IsZero() {
			return echo.NewHTTPError(http.StatusBadRequest, "token has no expiry and cannot be revoked")
		}
		if err := store.Revoke(ctx, id.TokenID, id.ExpiresAt); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]bool{"revoked": true},
		})
	}
}
