package forms

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

type (
	// Data is the JSON object of a form draft.
	Data map[string]interface{}

	// Save is the latest draft of a learner's form.
	Save struct {
		UserID    string    `json:"userId" db:"user_id"`
		FormID    string    `json:"formId" db:"form_id"`
		ModuleID  null.Int  `json:"moduleId" db:"module_id"`
		SessionID null.Int  `json:"sessionId" db:"session_id"`
		Data      Data      `json:"data" db:"data"`
		SavedAt   time.Time `json:"savedAt" db:"saved_at"`
	}

	NewSave struct {
		UserID    string
		FormID    string
		ModuleID  null.Int
		SessionID null.Int
		Data      Data
	}
)

// Merge returns a copy of d with the keys of incoming written over it.
func (d Data) Merge(incoming Data) Data {
	merged := make(Data, len(d)+len(incoming))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

func (d Data) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]interface{}(d))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *Data) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*d = Data{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("cannot scan %T into Data", src)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "decoding form data")
	}
	*d = m
	return nil
}
