package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/core/progress"
)

const msgProgressFailed = "Failed to update progress"

type progressApi struct {
	svc      *progress.Service
	validate *validator.Validate
}

func registerProgressAPI(g *echo.Group, svc *progress.Service, validate *validator.Validate) {
	api := progressApi{svc: svc, validate: validate}

	pg := g.Group("/progress")
	pg.POST("/session", api.updateSession)
	pg.GET("/session", api.summary)
	pg.POST("/update", api.update)
	pg.POST("/complete-section", api.completeSection)
	pg.GET("/continue", api.continueSession)
}

func queryUserID(ctx echo.Context) (string, error) {
	userID := core.CleanString(ctx.QueryParam("userId"))
	if userID == "" {
		return "", core.NewValidationError(nil, core.FieldError{Field: "userId", Error: "userId is required"})
	}
	return userID, nil
}

// persistErr keeps InvalidInput as is and names the failed operation otherwise.
func persistErr(msg string, err error) error {
	if core.IsValidationError(err) {
		return err
	}
	return newServerError(msg, err)
}

func (api *progressApi) updateSession(ctx echo.Context) error {
	var data ProgressRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProgressRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sp, err := api.svc.UpdateSession(ctx.Request().Context(), data.Update())
	if err != nil {
		return persistErr(msgProgressFailed, err)
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Data: sp})
}

func (api *progressApi) summary(ctx echo.Context) error {
	userID, err := queryUserID(ctx)
	if err != nil {
		return err
	}

	summary, err := api.svc.Summary(ctx.Request().Context(), userID)
	if err != nil {
		return newServerError("Failed to fetch progress", err)
	}
	// the summary is sent unwrapped
	return ctx.JSON(http.StatusOK, summary)
}

func (api *progressApi) update(ctx echo.Context) error {
	var data ProgressUpdateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProgressUpdateRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sp, err := api.svc.UpdateSession(ctx.Request().Context(), data.Update())
	if err != nil {
		return persistErr(msgProgressFailed, err)
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Data: sp})
}

func (api *progressApi) completeSection(ctx echo.Context) error {
	var data CompleteSectionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CompleteSectionRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sp, err := api.svc.CompleteSection(ctx.Request().Context(), data.Key(), core.CleanString(data.Section))
	if err != nil {
		return persistErr(msgProgressFailed, err)
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Data: sp})
}

func (api *progressApi) continueSession(ctx echo.Context) error {
	userID, err := queryUserID(ctx)
	if err != nil {
		return err
	}

	sp, err := api.svc.Continue(ctx.Request().Context(), userID)
	if err != nil {
		if errors.Cause(err) == progress.ErrNotFound {
			return err
		}
		return newServerError("Failed to fetch progress", err)
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Data: sp})
}
