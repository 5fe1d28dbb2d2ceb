package recovery

import (
	"encoding/json"
	"time"
)

type OperationType string

const (
	OpProgressUpdate  OperationType = "progress_update"
	OpFormSave        OperationType = "form_save"
	OpSectionComplete OperationType = "section_complete"
)

// Events emitted to the listeners registered with On.
const (
	EventSessionStarted      = "session_started"
	EventSessionRecovered    = "session_recovered"
	EventSessionCleared      = "session_cleared"
	EventProgressUpdated     = "progress_updated"
	EventFormSaved           = "form_saved"
	EventSectionCompleted    = "section_completed"
	EventForceSaveComplete   = "force_save_complete"
	EventNetworkRestored     = "network_restored"
	EventNetworkLost         = "network_lost"
	EventOperationsProcessed = "operations_processed"
	EventOperationAbandoned  = "operation_abandoned"
	EventNotification        = "notification"
)

const (
	NotifySuccess = "success"
	NotifyWarning = "warning"
	NotifyError   = "error"
)

// Store keys.
const (
	KeySessionState   = "session_state"
	KeyOperationQueue = "operation_queue"
	KeyDeadLetters    = "dead_letters"
)

const firstSection = "intro"

type (
	// Operation is a write waiting to be sent to the progress API.
	Operation struct {
		ID         string          `json:"id"`
		Type       OperationType   `json:"type"`
		Payload    json.RawMessage `json:"payload"`
		Timestamp  time.Time       `json:"timestamp"`
		RetryCount int             `json:"retryCount"`
		MaxRetries int             `json:"maxRetries"`
		LastError  string          `json:"lastError,omitempty"`
	}

	// DeadLetter is an operation given up on after its retries or a permanent rejection.
	DeadLetter struct {
		Operation
		AbandonedAt time.Time `json:"abandonedAt"`
		Reason      string    `json:"reason"`
		Reported    bool      `json:"reported"`
	}

	// Data is a JSON object of section progress or form fields.
	Data map[string]interface{}

	SessionState struct {
		UserID          string          `json:"userId"`
		ModuleID        int             `json:"moduleId"`
		SessionID       int             `json:"sessionId"`
		CurrentSection  string          `json:"currentSection"`
		SectionProgress map[string]Data `json:"sectionProgress"`
		FormData        map[string]Data `json:"formData"`
		LastSaved       time.Time       `json:"lastSaved"`
		IsOnline        bool            `json:"isOnline"`
		PendingChanges  bool            `json:"pendingChanges"`
	}

	Notification struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}

	ProgressUpdated struct {
		Section string
		Data    Data
	}

	FormSaved struct {
		FormID string
		Data   Data
	}

	SectionCompleted struct {
		Section string
	}

	ForceSaveResult struct {
		Success bool
		Pending int
	}

	FlushResult struct {
		Processed int
		Failed    int
		Abandoned int
	}
)

func (d Data) merge(incoming Data) Data {
	merged := make(Data, len(d)+len(incoming))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

func (st *SessionState) clone() *SessionState {
	if st == nil {
		return nil
	}
	c := *st
	c.SectionProgress = make(map[string]Data, len(st.SectionProgress))
	for k, v := range st.SectionProgress {
		c.SectionProgress[k] = Data{}.merge(v)
	}
	c.FormData = make(map[string]Data, len(st.FormData))
	for k, v := range st.FormData {
		c.FormData[k] = Data{}.merge(v)
	}
	return &c
}

// payload bodies of the three operation types
type (
	progressPayload struct {
		UserID    string `json:"userId"`
		ModuleID  int    `json:"moduleId"`
		SessionID int    `json:"sessionId"`
		Section   string `json:"section"`
		Data      Data   `json:"data"`
	}

	formPayload struct {
		UserID    string `json:"userId"`
		FormID    string `json:"formId"`
		ModuleID  int    `json:"moduleId"`
		SessionID int    `json:"sessionId"`
		Data      Data   `json:"data"`
	}

	completePayload struct {
		UserID      string    `json:"userId"`
		ModuleID    int       `json:"moduleId"`
		SessionID   int       `json:"sessionId"`
		Section     string    `json:"section"`
		CompletedAt time.Time `json:"completedAt"`
	}
)
