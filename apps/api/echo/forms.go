package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ibam/learnsync/core/forms"
)

type formApi struct {
	svc      *forms.Service
	validate *validator.Validate
}

func registerFormAPI(g *echo.Group, svc *forms.Service, validate *validator.Validate) {
	api := formApi{svc: svc, validate: validate}

	fg := g.Group("/forms")
	fg.POST("/save", api.save)
	fg.GET("/:formId", api.retrieve)
}

func (api *formApi) save(ctx echo.Context) error {
	var data FormSaveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FormSaveRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.svc.Save(ctx.Request().Context(), data.NewSave())
	if err != nil {
		return persistErr("Failed to save form", err)
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s})
}

func (api *formApi) retrieve(ctx echo.Context) error {
	userID, err := queryUserID(ctx)
	if err != nil {
		return err
	}

	s, err := api.svc.Get(ctx.Request().Context(), userID, ctx.Param("formId"))
	if err != nil {
		if errors.Cause(err) == forms.ErrNotFound {
			return err
		}
		return newServerError("Failed to fetch form", err)
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s})
}
