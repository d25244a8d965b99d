package scan

import (
	"errors"
	"fmt"
)

// Reason names why a scan was rejected. Every reason is terminal.
type Reason string

const (
	ReasonUnknownTag          Reason = "unknown_tag"
	ReasonStudentInactive     Reason = "student_inactive"
	ReasonStudentUnassigned   Reason = "student_unassigned"
	ReasonUnknownDevice       Reason = "unknown_device"
	ReasonDeviceClassMismatch Reason = "device_class_mismatch"
	ReasonHolidayNoAttendance Reason = "holiday_no_attendance"
	ReasonNoActiveSchedule    Reason = "no_active_schedule"
)

var reasonMessages = map[Reason]string{
	ReasonUnknownTag:          "no student found with this tag",
	ReasonStudentInactive:     "student account is inactive",
	ReasonStudentUnassigned:   "student is not assigned to any class",
	ReasonUnknownDevice:       "reader device not found",
	ReasonDeviceClassMismatch: "reader is assigned to a different class",
	ReasonHolidayNoAttendance: "holiday, no attendance is recorded",
	ReasonNoActiveSchedule:    "no active schedule for this time",
}

// Message is the user-facing text for the reason.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

var (
	// ErrRejected matches every RejectionError.
	ErrRejected = errors.New("scan rejected")
	// ErrInfrastructure matches every InfraError.
	ErrInfrastructure = errors.New("scan could not be evaluated")
	// ErrDuplicateKey is returned by a Ledger when the uniqueness triple already exists.
	ErrDuplicateKey = errors.New("attendance record already exists")
)

// RejectionError is a domain rejection in error form.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", ErrRejected, e.Reason.Message(), e.Detail)
	}
	return fmt.Sprintf("%s: %s", ErrRejected, e.Reason.Message())
}

// Is matches ErrRejected and any RejectionError with the same reason.
func (e *RejectionError) Is(target error) bool {
	if target == ErrRejected {
		return true
	}
	var other *RejectionError
	if errors.As(target, &other) {
		return other.Reason == e.Reason
	}
	return false
}

// Rejected returns a comparable RejectionError for reason, for use with errors.Is.
func Rejected(reason Reason) error {
	return &RejectionError{Reason: reason}
}

// InfraError wraps a directory or ledger failure. Callers may retry these.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("scan: %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

func (e *InfraError) Is(target error) bool { return target == ErrInfrastructure }

func infra(op string, err error) error {
	return &InfraError{Op: op, Err: err}
}
