// Package errs defines the error taxonomy shared by the market, auction and
// scheduling packages. Every rejection a user can see carries a stable Code.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups codes by how callers are expected to react.
type Kind int

const (
	// Validation covers bad order or bid parameters.
	Validation Kind = iota
	// State covers requests that are well formed but arrive in the wrong state.
	State
	// Privilege covers missing, conflicting or over-capacity privileges.
	Privilege
	// ScheduleSkip marks a scheduled command whose preconditions were not met.
	ScheduleSkip
	// HandlerFault wraps unexpected failures inside command handlers or agents.
	HandlerFault
	// Collaborator wraps persistence and transport failures.
	Collaborator
	// NotFound covers lookups of unknown ids.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "ValidationError"
	case State:
		return "StateError"
	case Privilege:
		return "PrivilegeError"
	case ScheduleSkip:
		return "ScheduleSkip"
	case HandlerFault:
		return "HandlerFault"
	case Collaborator:
		return "CollaboratorFault"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Code is the human-readable reason attached to a rejection.
type Code string

const (
	InvalidOrder                 Code = "InvalidOrder"
	InvalidRequest               Code = "InvalidRequest"
	MarketClosed                 Code = "MarketClosed"
	FeatureDisabled              Code = "FeatureDisabled"
	PrivilegeRequired            Code = "PrivilegeRequired"
	PositionLimit                Code = "PositionLimit"
	UnknownSymbol                Code = "UnknownSymbol"
	UnknownParticipant           Code = "UnknownParticipant"
	SessionNotActive             Code = "SessionNotActive"
	SessionNotFound              Code = "SessionNotFound"
	OrderNotFound                Code = "OrderNotFound"
	OrderTerminal                Code = "OrderTerminal"
	AuctionNotFound              Code = "AuctionNotFound"
	AuctionClosed                Code = "AuctionClosed"
	BidTooLow                    Code = "BidTooLow"
	BidNotIncreasing             Code = "BidNotIncreasing"
	UnknownPrivilege             Code = "UnknownPrivilege"
	PrivilegeMissingPrerequisite Code = "PrivilegeMissingPrerequisite"
	PrivilegeConflict            Code = "PrivilegeConflict"
	PrivilegeCapacity            Code = "PrivilegeCapacity"
	UnknownAgent                 Code = "UnknownAgent"
	PreconditionUnmet            Code = "PreconditionUnmet"
	CommandFailed                Code = "CommandFailed"
	StoreFailed                  Code = "StoreFailed"
	PublishFailed                Code = "PublishFailed"
)

var codeKinds = map[Code]Kind{
	InvalidOrder:                 Validation,
	InvalidRequest:               Validation,
	BidTooLow:                    Validation,
	BidNotIncreasing:             Validation,
	MarketClosed:                 State,
	FeatureDisabled:              State,
	SessionNotActive:             State,
	OrderTerminal:                State,
	AuctionClosed:                State,
	PositionLimit:                State,
	PrivilegeRequired:            Privilege,
	UnknownPrivilege:             Privilege,
	PrivilegeMissingPrerequisite: Privilege,
	PrivilegeConflict:            Privilege,
	PrivilegeCapacity:            Privilege,
	UnknownSymbol:                NotFound,
	UnknownParticipant:           NotFound,
	SessionNotFound:              NotFound,
	OrderNotFound:                NotFound,
	AuctionNotFound:              NotFound,
	UnknownAgent:                 NotFound,
	PreconditionUnmet:            ScheduleSkip,
	CommandFailed:                HandlerFault,
	StoreFailed:                  Collaborator,
	PublishFailed:                Collaborator,
}

// Kind reports the taxonomy member a code belongs to.
func (c Code) Kind() Kind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return HandlerFault
}

// Error is a rejection with a reason code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New builds an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code so errors.Is(err, errs.New(errs.MarketClosed, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Kind is shorthand for e.Code.Kind().
func (e *Error) Kind() Kind { return e.Code.Kind() }

// CodeOf extracts the reason code of err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind() {
	case Validation:
		return http.StatusBadRequest
	case State:
		return http.StatusConflict
	case Privilege:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
