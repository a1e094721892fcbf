package store

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/percona/percona-dbclone-mongodb/errors"
)

// Code classifies a terminal or transient condition. Values follow the
// MongoDB server error code numbering.
type Code int32

const (
	CodeHostUnreachable    Code = 6
	CodeUnauthorized       Code = 13
	CodeIllegalOperation   Code = 20
	CodeNamespaceNotFound  Code = 26
	CodeIndexNotFound      Code = 27
	CodeNamespaceExists    Code = 48
	CodeInvalidOptions     Code = 72
	CodeInvalidNamespace   Code = 73
	CodeWriteConflict      Code = 112
	CodeCommandFailed      Code = 125
	CodePrimarySteppedDown Code = 189
	CodeNotWritablePrimary Code = 10107
	CodeDuplicateKey       Code = 11000
	CodeInterrupted        Code = 11601
	CodeCorruptDocument    Code = 28531
	CodeDatabaseDropped    Code = 28593
	CodeCollectionDropped  Code = 28594
)

func (c Code) String() string {
	switch c {
	case CodeHostUnreachable:
		return "HostUnreachable"
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeIllegalOperation:
		return "IllegalOperation"
	case CodeNamespaceNotFound:
		return "NamespaceNotFound"
	case CodeIndexNotFound:
		return "IndexNotFound"
	case CodeNamespaceExists:
		return "NamespaceExists"
	case CodeInvalidOptions:
		return "InvalidOptions"
	case CodeInvalidNamespace:
		return "InvalidNamespace"
	case CodeWriteConflict:
		return "WriteConflict"
	case CodeCommandFailed:
		return "CommandFailed"
	case CodePrimarySteppedDown:
		return "PrimarySteppedDown"
	case CodeNotWritablePrimary:
		return "NotWritablePrimary"
	case CodeDuplicateKey:
		return "DuplicateKey"
	case CodeInterrupted:
		return "Interrupted"
	case CodeCorruptDocument:
		return "CorruptDocument"
	case CodeDatabaseDropped:
		return "DatabaseDroppedDuringClone"
	case CodeCollectionDropped:
		return "CollectionDroppedDuringClone"
	default:
		return fmt.Sprintf("Code(%d)", int32(c))
	}
}

// Condition is an error carrying a [Code] and, optionally, a cause.
type Condition struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *Condition) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}

	return e.Code.String() + ": " + e.Msg
}

func (e *Condition) Unwrap() error {
	return e.Cause
}

// NewCondition returns an error with the given code and message.
func NewCondition(code Code, msg string) error {
	return &Condition{Code: code, Msg: msg}
}

// Conditionf returns an error with the given code and formatted message.
func Conditionf(code Code, format string, vals ...any) error {
	return &Condition{Code: code, Msg: fmt.Sprintf(format, vals...)}
}

// Interrupted wraps a cancellation cause as an Interrupted condition.
func Interrupted(opName string, cause error) error {
	return &Condition{Code: CodeInterrupted, Msg: opName, Cause: cause}
}

// CodeOf returns the condition code of err, unwrapping as needed, or zero.
// MongoDB server errors map to their native code numbers.
func CodeOf(err error) Code {
	var cond *Condition
	if errors.As(err, &cond) {
		return cond.Code
	}

	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		for _, code := range conditionCodes {
			if srvErr.HasErrorCode(int(code)) {
				return code
			}
		}
	}

	if mongo.IsDuplicateKeyError(err) {
		return CodeDuplicateKey
	}

	return 0
}

//nolint:gochecknoglobals
var conditionCodes = []Code{
	CodeHostUnreachable,
	CodeUnauthorized,
	CodeIllegalOperation,
	CodeNamespaceNotFound,
	CodeIndexNotFound,
	CodeNamespaceExists,
	CodeInvalidOptions,
	CodeInvalidNamespace,
	CodeWriteConflict,
	CodeCommandFailed,
	CodePrimarySteppedDown,
	CodeNotWritablePrimary,
	CodeDuplicateKey,
	CodeInterrupted,
}

// HasCode reports whether err carries the given condition code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsWriteConflict reports whether err is the transient write-conflict
// condition that makes a transaction retryable.
func IsWriteConflict(err error) bool {
	return HasCode(err, CodeWriteConflict)
}

// IsDuplicateKey reports whether err is a duplicate-key condition.
func IsDuplicateKey(err error) bool {
	return HasCode(err, CodeDuplicateKey)
}

// IsNotPrimary reports whether err is a role error: the node stopped
// accepting writes for the namespace.
func IsNotPrimary(err error) bool {
	code := CodeOf(err)

	return code == CodeNotWritablePrimary || code == CodePrimarySteppedDown
}
