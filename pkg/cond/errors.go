package cond

import (
	"context"
	"errors"
	"fmt"
	"io"
)

type ErrNotFound struct {
	Category string
	Element  string
}

func (e ErrNotFound) Error() string {
	return "not found: " + e.Element
}

func (e ErrNotFound) ErrorCategory() string {
	return e.Category
}

func (e ErrNotFound) ErrorCode() string {
	return "not-found"
}

func (e ErrNotFound) Is(target error) bool {
	if target == nil {
		return false
	}

	_, ok := target.(ErrNotFound)
	return ok
}

func NotFound(category string, element any) error {
	return ErrNotFound{Category: category, Element: fmt.Sprint(element)}
}

type ErrConflict struct {
	Category string
	Element  string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("conflict in %s: %s", e.Category, e.Element)
}

func (e ErrConflict) ErrorCategory() string {
	return e.Category
}

func (e ErrConflict) ErrorCode() string {
	return "conflict"
}

func (e ErrConflict) Is(target error) bool {
	if target == nil {
		return false
	}

	_, ok := target.(ErrConflict)
	return ok
}

func Conflict(category string, element any) error {
	return ErrConflict{Category: category, Element: fmt.Sprint(element)}
}

type ErrInvalidConfig struct {
	Category string
	Message  string
}

func (e ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid configuration of %s: %s", e.Category, e.Message)
}

func (e ErrInvalidConfig) ErrorCategory() string {
	return e.Category
}

func (e ErrInvalidConfig) ErrorCode() string {
	return "invalid-config"
}

func (e ErrInvalidConfig) Is(target error) bool {
	if target == nil {
		return false
	}

	_, ok := target.(ErrInvalidConfig)
	return ok
}

func InvalidConfig(category string, message string, args ...any) error {
	return ErrInvalidConfig{Category: category, Message: fmt.Sprintf(message, args...)}
}

type ErrIllegalState struct {
	Category string
	Message  string
}

func (e ErrIllegalState) Error() string {
	return fmt.Sprintf("illegal state in %s: %s", e.Category, e.Message)
}

func (e ErrIllegalState) ErrorCategory() string {
	return e.Category
}

func (e ErrIllegalState) ErrorCode() string {
	return "illegal-state"
}

func (e ErrIllegalState) Is(target error) bool {
	if target == nil {
		return false
	}

	_, ok := target.(ErrIllegalState)
	return ok
}

func IllegalState(category string, message string) error {
	return ErrIllegalState{Category: category, Message: message}
}

type ErrUnsupported struct {
	Category string
	Element  string
}

func (e ErrUnsupported) Error() string {
	return "unsupported: " + e.Element
}

func (e ErrUnsupported) ErrorCategory() string {
	return e.Category
}

func (e ErrUnsupported) ErrorCode() string {
	return "unsupported"
}

func (e ErrUnsupported) Is(target error) bool {
	if target == nil {
		return false
	}

	_, ok := target.(ErrUnsupported)
	return ok
}

func Unsupported(category string, element string) error {
	return ErrUnsupported{Category: category, Element: element}
}

type ErrCorruption struct {
	Category string
	Message  string
}

func (e ErrCorruption) Error() string {
	return fmt.Sprintf("corruption in %s: %s", e.Category, e.Message)
}

func (e ErrCorruption) ErrorMessage() string {
	return e.Message
}

func (e ErrCorruption) ErrorCategory() string {
	return e.Category
}

func (e ErrCorruption) ErrorCode() string {
	return "corruption"
}

func (e ErrCorruption) Is(target error) bool {
	if target == nil {
		return false
	}

	_, ok := target.(ErrCorruption)
	return ok
}

func Corruption(category string, message string, args ...any) error {
	return ErrCorruption{Category: category, Message: fmt.Sprintf(message, args...)}
}

type ErrGeneric struct {
	Message string
	inner   error
}

func (e ErrGeneric) Error() string {
	return e.Message
}

func (e ErrGeneric) ErrorCategory() string {
	return "generic"
}

func (e ErrGeneric) ErrorCode() string {
	return "unknown"
}

func (e ErrGeneric) Unwrap() error {
	return e.inner
}

func Error(str string) error {
	return ErrGeneric{Message: str}
}

func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	inner := errors.Unwrap(err)
	return ErrGeneric{Message: err.Error(), inner: inner}
}

type ErrRemote struct {
	Category string
	Code     string
	Message  string
}

func (e ErrRemote) ErrorCategory() string {
	return e.Category
}

func (e ErrRemote) ErrorCode() string {
	return e.Code
}

func (e ErrRemote) ErrorMessage() string {
	return e.Message
}

func (e ErrRemote) Error() string {
	cat := e.Category
	code := e.Code

	if cat == "" {
		cat = "generic"
	}

	if code == "" {
		code = "unknown"
	}

	return fmt.Sprintf("remote error: %s %s: %s", cat, code, e.Message)
}

// RemoteError reconstructs a typed error from the category and code a peer
// reported on the wire.
func RemoteError(category, code, message string) error {
	switch code {
	case "closed":
		return ErrClosed{Message: message}
	case "not-found":
		return NotFound(category, message)
	case "conflict":
		return Conflict(category, message)
	case "corruption":
		return ErrCorruption{Category: category, Message: message}
	case "illegal-state":
		return ErrIllegalState{Category: category, Message: message}
	case "unsupported":
		return ErrUnsupported{Category: category, Element: message}
	case "invalid-config":
		return ErrInvalidConfig{Category: category, Message: message}
	case "panic":
		return ErrPanic{Message: message}
	}

	return ErrRemote{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

func Panic(message string) error {
	return ErrPanic{Message: message}
}

type ErrPanic struct {
	Message string
}

func (e ErrPanic) Error() string {
	return "panic: " + e.Message
}

func (e ErrPanic) ErrorCategory() string {
	return "panic"
}

func (e ErrPanic) ErrorCode() string {
	return "panic"
}

func (e ErrPanic) Is(target error) bool {
	if target == nil {
		return false
	}

	_, ok := target.(ErrPanic)
	return ok
}

type ErrClosed struct {
	Message string
}

func (e ErrClosed) Error() string {
	return "closed: " + e.Message
}

func (e ErrClosed) ErrorCategory() string {
	return "closed"
}

func (e ErrClosed) ErrorCode() string {
	return "closed"
}

func (e ErrClosed) ErrorMessage() string {
	return e.Message
}

func (e ErrClosed) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target.(type) {
	case ErrClosed:
		return true
	}

	return false
}

func Closed(message string) error {
	return ErrClosed{Message: message}
}

// Category and Code report the taxonomy attributes of err, with generic
// fallbacks for errors that did not come from this package.
func Category(err error) string {
	var c interface{ ErrorCategory() string }
	if errors.As(err, &c) {
		return c.ErrorCategory()
	}

	return "generic"
}

func Code(err error) string {
	var c interface{ ErrorCode() string }
	if errors.As(err, &c) {
		return c.ErrorCode()
	}

	return "unknown"
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}

	// Return existing cond errors unchanged
	switch err.(type) {
	case ErrNotFound, ErrConflict, ErrInvalidConfig, ErrIllegalState, ErrUnsupported,
		ErrCorruption, ErrGeneric, ErrRemote, ErrPanic, ErrClosed:
		return err
	}

	switch {
	case errors.Is(err, io.EOF):
		return ErrClosed{Message: err.Error()}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	}

	return Error(err.Error())
}
