// Package alerts turns inbound monitoring alerts into incidents.
package alerts

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"carecore/internal/incidents"
)

// Alert is the inbound event payload.
type Alert struct {
	AlertID   string `json:"alert_id" validate:"required,max=128"`
	PatientID string `json:"patient_id" validate:"required,max=128"`
	AlertType string `json:"alert_type" validate:"required,max=64"`
	Severity  string `json:"severity" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
}

var validate = validator.New()

// Decode parses and validates an alert. Every failure is permanent.
func Decode(data []byte) (Alert, error) {
	var a Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return Alert{}, Permanent(fmt.Errorf("decode alert: %w", err))
	}
	if err := a.Validate(); err != nil {
		return Alert{}, err
	}
	return a, nil
}

func (a Alert) Validate() error {
	if err := validate.Struct(a); err != nil {
		return Permanent(fmt.Errorf("invalid alert: %w", err))
	}
	return nil
}

// ProcessingError classifies a failure to handle one alert. Permanent failures
// will not succeed on redelivery.
type ProcessingError struct {
	Permanent bool
	Err       error
}

func (e *ProcessingError) Error() string {
	if e.Permanent {
		return "permanent: " + e.Err.Error()
	}
	return "transient: " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func Permanent(err error) error { return &ProcessingError{Permanent: true, Err: err} }

func Transient(err error) error { return &ProcessingError{Err: err} }

// IsPermanent reports whether err should skip redelivery. Validation and
// invalid-transition failures from the incident store count as permanent.
func IsPermanent(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	switch incidents.KindOf(err) {
	case incidents.KindValidation, incidents.KindInvalidTransition:
		return true
	}
	return false
}
