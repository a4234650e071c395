package audit

import (
	"errors"
	"fmt"
)

// Sentinel errors matched through errors.Is on an *Error.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnknownType = errors.New("unknown type")
)

// ErrorCode categorizes audit errors.
type ErrorCode string

const (
	// CodeNotFound indicates a lookup found no change or no live record.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnknownType indicates an item type with no registration.
	CodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// CodeRevertFailed indicates a revert was rolled back.
	CodeRevertFailed ErrorCode = "REVERT_FAILED"

	// CodeInvalidRecord indicates a value that cannot be tracked
	// (missing key, wrong Go type, bad action).
	CodeInvalidRecord ErrorCode = "INVALID_RECORD"
)

// Error is the structured error returned by this package.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ItemType and ItemID identify the affected record, when known.
	ItemType string
	ItemID   string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ItemType != "" && e.ItemID != "" {
		msg = fmt.Sprintf("%s (item=%s#%s)", msg, e.ItemType, e.ItemID)
	} else if e.ItemType != "" {
		msg = fmt.Sprintf("%s (type=%s)", msg, e.ItemType)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel errors by code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrUnknownType:
		return e.Code == CodeUnknownType
	}
	return false
}

// NotFoundError creates an Error for an empty lookup.
func NotFoundError(itemType, itemID, message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, ItemType: itemType, ItemID: itemID}
}

// UnknownTypeError creates an Error for an unregistered item type.
func UnknownTypeError(itemType string) *Error {
	return &Error{Code: CodeUnknownType, Message: "item type is not registered", ItemType: itemType}
}

func invalidRecordError(itemType, message string, err error) *Error {
	return &Error{Code: CodeInvalidRecord, Message: message, ItemType: itemType, Err: err}
}

func revertError(c *Change, err error) *Error {
	return &Error{
		Code:     CodeRevertFailed,
		Message:  fmt.Sprintf("revert of change %d rolled back", c.ID),
		ItemType: c.ItemType,
		ItemID:   c.ItemID,
		Err:      err,
	}
}

// IsNotFound returns true if err is or wraps a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnknownType returns true if err is or wraps an unknown-type error.
func IsUnknownType(err error) bool {
	return errors.Is(err, ErrUnknownType)
}

// IsRevertFailure returns true if err is a rolled back revert.
// Uses errors.As to handle wrapped errors.
func IsRevertFailure(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == CodeRevertFailed
	}
	return false
}
