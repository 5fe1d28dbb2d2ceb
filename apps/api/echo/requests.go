package echoapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ibam/learnsync/core/deadletter"
	"github.com/ibam/learnsync/core/forms"
	"github.com/ibam/learnsync/core/progress"
)

type (
	// IntString is an identifier sent either as a JSON number or as a numeric string.
	IntString string

	SuccessResponse struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}

	ProgressRequest struct {
		UserID    string    `json:"userId" validate:"required"`
		ModuleID  IntString `json:"moduleId" validate:"required,intstr"`
		SessionID IntString `json:"sessionId" validate:"required,intstr"`
		Section   string    `json:"section"`
		progress.Fields
	}

	ProgressUpdateRequest struct {
		UserID    string          `json:"userId" validate:"required"`
		ModuleID  IntString       `json:"moduleId" validate:"required,intstr"`
		SessionID IntString       `json:"sessionId" validate:"required,intstr"`
		Section   string          `json:"section"`
		Data      progress.Fields `json:"data"`
	}

	CompleteSectionRequest struct {
		UserID      string     `json:"userId" validate:"required"`
		ModuleID    IntString  `json:"moduleId" validate:"required,intstr"`
		SessionID   IntString  `json:"sessionId" validate:"required,intstr"`
		Section     string     `json:"section" validate:"required"`
		CompletedAt *time.Time `json:"completedAt,omitempty"`
	}

	FormSaveRequest struct {
		UserID    string     `json:"userId" validate:"required"`
		FormID    string     `json:"formId" validate:"required"`
		ModuleID  IntString  `json:"moduleId" validate:"omitempty,intstr"`
		SessionID IntString  `json:"sessionId" validate:"omitempty,intstr"`
		Data      forms.Data `json:"data" validate:"required"`
	}
)

func (s *IntString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = IntString(strings.TrimSpace(str))
	default:
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return errors.Errorf("%s is neither a number nor a string", data)
		}
		*s = IntString(num.String())
	}
	return nil
}

// Int returns the parsed value; validate with the intstr tag first.
func (s IntString) Int() int {
	i, _ := strconv.Atoi(strings.TrimSpace(string(s)))
	return i
}

func (s IntString) NullInt() null.Int {
	if s == "" {
		return null.Int{}
	}
	return null.IntFrom(s.Int())
}

func (r *ProgressRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r *ProgressRequest) Update() progress.Update {
	return progress.Update{
		Key:     progress.Key{UserID: r.UserID, ModuleID: r.ModuleID.Int(), SessionID: r.SessionID.Int()},
		Section: r.Section,
		Fields:  r.Fields,
	}
}

func (r *ProgressUpdateRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r *ProgressUpdateRequest) Update() progress.Update {
	return progress.Update{
		Key:     progress.Key{UserID: r.UserID, ModuleID: r.ModuleID.Int(), SessionID: r.SessionID.Int()},
		Section: r.Section,
		Fields:  r.Data,
	}
}

func (r *CompleteSectionRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r *CompleteSectionRequest) Key() progress.Key {
	return progress.Key{UserID: r.UserID, ModuleID: r.ModuleID.Int(), SessionID: r.SessionID.Int()}
}

func (r *FormSaveRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r *FormSaveRequest) NewSave() forms.NewSave {
	return forms.NewSave{
		UserID:    r.UserID,
		FormID:    r.FormID,
		ModuleID:  r.ModuleID.NullInt(),
		SessionID: r.SessionID.NullInt(),
		Data:      r.Data,
	}
}

func validateReport(validate *validator.Validate, r *deadletter.Report) error {
	return validate.Struct(r)
}
