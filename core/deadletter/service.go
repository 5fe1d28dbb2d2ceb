package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	"github.com/ibam/learnsync/core"
)

const templateName = "dead_letters"

type (
	// Operation is a queued write a learner's client gave up on.
	Operation struct {
		ID          string          `json:"id" validate:"required"`
		Type        string          `json:"type" validate:"required"`
		Payload     json.RawMessage `json:"payload,omitempty"`
		RetryCount  int             `json:"retryCount" validate:"min=0"`
		LastError   string          `json:"lastError"`
		Timestamp   time.Time       `json:"timestamp"`
		AbandonedAt time.Time       `json:"abandonedAt"`
	}

	Report struct {
		LearnerID  string      `json:"userId" validate:"required"`
		ModuleID   int         `json:"moduleId" validate:"min=0"`
		SessionID  int         `json:"sessionId" validate:"min=0"`
		Operations []Operation `json:"operations" validate:"required,min=1,dive"`
	}

	Service struct {
		mailSvc core.EmailService
		logger  core.Logger
		admins  []mail.Address
	}
)

func NewService(mailSvc core.EmailService, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		mailSvc: mailSvc,
		logger:  logger,
		admins:  conf.AdminAddresses(),
	}
}

// Report logs every abandoned operation and notifies the administrators.
func (svc *Service) Report(ctx context.Context, r Report) error {
	r.LearnerID = core.CleanString(r.LearnerID)
	if r.LearnerID == "" || len(r.Operations) == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "operations", Error: "operations is required"})
	}

	lrn := core.Learner{ID: r.LearnerID}
	for _, op := range r.Operations {
		svc.logger.Warn(
			fmt.Sprintf("abandoned %s operation %s after %d retries: %s", op.Type, op.ID, op.RetryCount, op.LastError),
			map[string]interface{}{"moduleId": r.ModuleID, "sessionId": r.SessionID, "payload": string(op.Payload)},
			lrn,
		)
	}

	if len(svc.admins) == 0 {
		return nil
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           svc.admins,
		Subject:      fmt.Sprintf("%d abandoned progress operation(s) for learner %s", len(r.Operations), r.LearnerID),
		TemplateName: templateName,
		TemplateData: r,
	})
	return nil
}
