package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ibam/learnsync/core/deadletter"
)

type deadLetterApi struct {
	svc      *deadletter.Service
	validate *validator.Validate
}

func registerDeadLetterAPI(g *echo.Group, svc *deadletter.Service, validate *validator.Validate) {
	api := deadLetterApi{svc: svc, validate: validate}
	g.POST("/recovery/dead-letters", api.report)
}

func (api *deadLetterApi) report(ctx echo.Context) error {
	var data deadletter.Report
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Report")
	}
	if err := validateReport(api.validate, &data); err != nil {
		return err
	}

	if err := api.svc.Report(ctx.Request().Context(), data); err != nil {
		return persistErr("Failed to report dead letters", err)
	}
	return ctx.JSON(http.StatusAccepted, SuccessResponse{
		Success: true,
		Data:    echo.Map{"received": len(data.Operations)},
	})
}
