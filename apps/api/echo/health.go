package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ibam/learnsync/core"
)

func registerHealthAPI(g *echo.Group, conf *core.Config) {
	g.Match([]string{http.MethodGet, http.MethodHead}, "/health", func(ctx echo.Context) error {
		h := ctx.Response().Header()
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")

		if ctx.Request().Method == http.MethodHead {
			return ctx.NoContent(http.StatusOK)
		}
		return ctx.JSON(http.StatusOK, SuccessResponse{
			Success: true,
			Data: echo.Map{
				"status":    "ok",
				"build":     conf.Build,
				"timestamp": time.Now().UTC(),
			},
		})
	})
}
