// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

import (
	"bytes"
	"fmt"

	"golang.org/x/xerrors"
)

// ErrorCode represents an error code from the TPM. Format-one error codes are offset by 0x80
// so that they don't collide with format-zero codes.
type ErrorCode ResponseCode

const (
	ErrorInitialize      ErrorCode = 0x00 // TPM_RC_INITIALIZE
	ErrorFailure         ErrorCode = 0x01 // TPM_RC_FAILURE
	ErrorSequence        ErrorCode = 0x03 // TPM_RC_SEQUENCE
	ErrorDisabled        ErrorCode = 0x20 // TPM_RC_DISABLED
	ErrorAuthMissing     ErrorCode = 0x25 // TPM_RC_AUTH_MISSING
	ErrorTooManyContexts ErrorCode = 0x2e // TPM_RC_TOO_MANY_CONTEXTS
	ErrorCommandSize     ErrorCode = 0x42 // TPM_RC_COMMAND_SIZE
	ErrorCommandCode     ErrorCode = 0x43 // TPM_RC_COMMAND_CODE
	ErrorAuthSize        ErrorCode = 0x44 // TPM_RC_AUTHSIZE
	ErrorAuthContext     ErrorCode = 0x45 // TPM_RC_AUTH_CONTEXT
	ErrorNeedsTest       ErrorCode = 0x53 // TPM_RC_NEEDS_TEST

	errorCode1Start ErrorCode = 0x80

	ErrorAttributes ErrorCode = errorCode1Start + 0x02 // TPM_RC_ATTRIBUTES
	ErrorHash       ErrorCode = errorCode1Start + 0x03 // TPM_RC_HASH
	ErrorValue      ErrorCode = errorCode1Start + 0x04 // TPM_RC_VALUE
	ErrorKeySize    ErrorCode = errorCode1Start + 0x07 // TPM_RC_KEY_SIZE
	ErrorMode       ErrorCode = errorCode1Start + 0x09 // TPM_RC_MODE
	ErrorType       ErrorCode = errorCode1Start + 0x0a // TPM_RC_TYPE
	ErrorHandle     ErrorCode = errorCode1Start + 0x0b // TPM_RC_HANDLE
	ErrorAuthFail   ErrorCode = errorCode1Start + 0x0e // TPM_RC_AUTH_FAIL
	ErrorNonce      ErrorCode = errorCode1Start + 0x0f // TPM_RC_NONCE
	ErrorSize       ErrorCode = errorCode1Start + 0x15 // TPM_RC_SIZE
	ErrorSymmetric  ErrorCode = errorCode1Start + 0x16 // TPM_RC_SYMMETRIC
	ErrorTag        ErrorCode = errorCode1Start + 0x17 // TPM_RC_TAG
	ErrorKey        ErrorCode = errorCode1Start + 0x1c // TPM_RC_KEY
	ErrorBadAuth    ErrorCode = errorCode1Start + 0x22 // TPM_RC_BAD_AUTH
)

var errorCodeNames = map[ErrorCode]string{
	ErrorInitialize:      "TPM_RC_INITIALIZE",
	ErrorFailure:         "TPM_RC_FAILURE",
	ErrorSequence:        "TPM_RC_SEQUENCE",
	ErrorDisabled:        "TPM_RC_DISABLED",
	ErrorAuthMissing:     "TPM_RC_AUTH_MISSING",
	ErrorTooManyContexts: "TPM_RC_TOO_MANY_CONTEXTS",
	ErrorCommandSize:     "TPM_RC_COMMAND_SIZE",
	ErrorCommandCode:     "TPM_RC_COMMAND_CODE",
	ErrorAuthSize:        "TPM_RC_AUTHSIZE",
	ErrorAuthContext:     "TPM_RC_AUTH_CONTEXT",
	ErrorNeedsTest:       "TPM_RC_NEEDS_TEST",
	ErrorAttributes:      "TPM_RC_ATTRIBUTES",
	ErrorHash:            "TPM_RC_HASH",
	ErrorValue:           "TPM_RC_VALUE",
	ErrorKeySize:         "TPM_RC_KEY_SIZE",
	ErrorMode:            "TPM_RC_MODE",
	ErrorType:            "TPM_RC_TYPE",
	ErrorHandle:          "TPM_RC_HANDLE",
	ErrorAuthFail:        "TPM_RC_AUTH_FAIL",
	ErrorNonce:           "TPM_RC_NONCE",
	ErrorSize:            "TPM_RC_SIZE",
	ErrorSymmetric:       "TPM_RC_SYMMETRIC",
	ErrorTag:             "TPM_RC_TAG",
	ErrorKey:             "TPM_RC_KEY",
	ErrorBadAuth:         "TPM_RC_BAD_AUTH",
}

var errorCodeDescriptions = map[ErrorCode]string{
	ErrorInitialize:      "TPM not initialized by TPM2_Startup or already initialized",
	ErrorFailure:         "commands not being accepted because of a TPM failure",
	ErrorSequence:        "improper use of a sequence handle",
	ErrorDisabled:        "the command is disabled",
	ErrorAuthMissing:     "command requires an authorization session for handle and it is not present",
	ErrorTooManyContexts: "context ID counter is at maximum",
	ErrorCommandSize:     "command commandSize value is inconsistent with contents of the command buffer",
	ErrorCommandCode:     "command code not supported",
	ErrorAuthSize:        "the value of authorizationSize is out of range or the number of octets in the Authorization Area is greater than required",
	ErrorAuthContext:     "use of an authorization session with a context command or another command that cannot have an authorization session",
	ErrorNeedsTest:       "the command requires a self-test that has not been run",
	ErrorAttributes:      "inconsistent attributes",
	ErrorHash:            "hash algorithm not supported or not appropriate",
	ErrorValue:           "value is out of range or is not correct for the context",
	ErrorKeySize:         "key size is not supported",
	ErrorMode:            "mode of operation not supported",
	ErrorType:            "the type of the value is not appropriate for the use",
	ErrorHandle:          "the handle is not correct for the use",
	ErrorAuthFail:        "the authorization HMAC check failed and DA counter incremented",
	ErrorNonce:          "invalid nonce size or nonce value mismatch",
	ErrorSize:            "structure is the wrong size",
	ErrorSymmetric:       "unsupported symmetric algorithm or key size, or not appropriate for instance",
	ErrorTag:             "incorrect structure tag",
	ErrorKey:             "key fields are not compatible with the selected use",
	ErrorBadAuth:         "authorization failure without DA implications",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(e))
}

// WarningCode represents a response from the TPM that is not necessarily an error.
type WarningCode ResponseCode

const (
	WarningContextGap     WarningCode = 0x01 // TPM_RC_CONTEXT_GAP
	WarningObjectMemory   WarningCode = 0x02 // TPM_RC_OBJECT_MEMORY
	WarningSessionMemory  WarningCode = 0x03 // TPM_RC_SESSION_MEMORY
	WarningMemory         WarningCode = 0x04 // TPM_RC_MEMORY
	WarningSessionHandles WarningCode = 0x05 // TPM_RC_SESSION_HANDLES
	WarningObjectHandles  WarningCode = 0x06 // TPM_RC_OBJECT_HANDLES
	WarningLocality       WarningCode = 0x07 // TPM_RC_LOCALITY
	WarningYielded        WarningCode = 0x08 // TPM_RC_YIELDED
	WarningCanceled       WarningCode = 0x09 // TPM_RC_CANCELED
	WarningTesting        WarningCode = 0x0a // TPM_RC_TESTING
	WarningReferenceH0    WarningCode = 0x10 // TPM_RC_REFERENCE_H0
	WarningReferenceH1    WarningCode = 0x11 // TPM_RC_REFERENCE_H1
	WarningLockout        WarningCode = 0x21 // TPM_RC_LOCKOUT
	WarningRetry          WarningCode = 0x22 // TPM_RC_RETRY
	WarningNVUnavailable  WarningCode = 0x23 // TPM_RC_NV_UNAVAILABLE
)

var warningCodeNames = map[WarningCode]string{
	WarningContextGap:     "TPM_RC_CONTEXT_GAP",
	WarningObjectMemory:   "TPM_RC_OBJECT_MEMORY",
	WarningSessionMemory:  "TPM_RC_SESSION_MEMORY",
	WarningMemory:         "TPM_RC_MEMORY",
	WarningSessionHandles: "TPM_RC_SESSION_HANDLES",
	WarningObjectHandles:  "TPM_RC_OBJECT_HANDLES",
	WarningLocality:       "TPM_RC_LOCALITY",
	WarningYielded:        "TPM_RC_YIELDED",
	WarningCanceled:       "TPM_RC_CANCELED",
	WarningTesting:        "TPM_RC_TESTING",
	WarningReferenceH0:    "TPM_RC_REFERENCE_H0",
	WarningReferenceH1:    "TPM_RC_REFERENCE_H1",
	WarningLockout:        "TPM_RC_LOCKOUT",
	WarningRetry:          "TPM_RC_RETRY",
	WarningNVUnavailable:  "TPM_RC_NV_UNAVAILABLE",
}

var warningCodeDescriptions = map[WarningCode]string{
	WarningContextGap:     "gap for context ID is too large",
	WarningObjectMemory:   "out of memory for object contexts",
	WarningSessionMemory:  "out of memory for session contexts",
	WarningMemory:         "out of shared object/session memory or need space for internal operations",
	WarningSessionHandles: "out of session handles - a session must be flushed before a new session may be created",
	WarningObjectHandles:  "out of object handles - the handle space for objects is depleted and a reboot is required",
	WarningLocality:       "bad locality",
	WarningYielded:        "the TPM has suspended operation on the command; forward progress was made and the command may be retried",
	WarningCanceled:       "the command was canceled",
	WarningTesting:        "TPM is performing self-tests",
	WarningReferenceH0:    "the 1st handle in the handle area references a transient object or session that is not loaded",
	WarningReferenceH1:    "the 2nd handle in the handle area references a transient object or session that is not loaded",
	WarningLockout:        "authorizations for objects subject to DA protection are not allowed at this time because the TPM is in DA lockout mode",
	WarningRetry:          "the TPM was not able to start the command",
	WarningNVUnavailable:  "the command may require writing of NV and NV is not current accessible",
}

func (w WarningCode) String() string {
	if name, ok := warningCodeNames[w]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(w))
}

const (
	// AnyCommandCode is used to match any command code when using {As,Is}TPMError, {As,Is}TPMHandleError,
	// {As,Is}TPMParameterError, {As,Is}TPMSessionError and {As,Is}TPMWarning.
	AnyCommandCode CommandCode = 0xc0000000

	// AnyErrorCode is used to match any error code when using {As,Is}TPMError, {As,Is}TPMHandleError,
	// {As,Is}TPMParameterError and {As,Is}TPMSessionError.
	AnyErrorCode ErrorCode = 0x100

	// AnyHandleIndex is used to match any handle when using {As,Is}TPMHandleError.
	AnyHandleIndex int = -1

	// AnyParameterIndex is used to match any parameter when using {As,Is}TPMParameterError.
	AnyParameterIndex int = -1

	// AnySessionIndex is used to match any session when using {As,Is}TPMSessionError.
	AnySessionIndex int = -1

	// AnyWarningCode is used to match any warning code when using {As,Is}TPMWarning.
	AnyWarningCode WarningCode = 0x80
)

// InvalidResponseError is returned from any TPMContext method that executes a TPM command if the TPM's
// response is invalid. An invalid response could be one that is shorter than the response header, one with
// an invalid responseSize field, a payload that is shorter than the responseSize field indicates or a
// payload with trailing bytes.
//
// If TPMContext.StartAuthSession returns this error, a session may have been created on the TPM without
// the caller learning its handle.
type InvalidResponseError struct {
	Command CommandCode
	msg     string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("TPM returned an invalid response for command %s: %v", e.Command, e.msg)
}

// TransportError is returned from any TPMContext method if the underlying Transport returns an error.
type TransportError struct {
	Op  string // The operation that caused the error
	err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cannot complete %s operation on Transport: %v", e.Op, e.err)
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// TPM1Error is returned from DecodeResponseCode and any TPMContext method that executes a command on
// the TPM if the TPM response code indicates an error from a TPM 1.2 device.
type TPM1Error struct {
	Command CommandCode  // Command code associated with this error
	Code    ResponseCode // Response code
}

func (e *TPM1Error) Error() string {
	return fmt.Sprintf("TPM returned a 1.2 error whilst executing command %s: 0x%08x", e.Command, e.Code)
}

// TPMVendorError is returned from DecodeResponseCode and any TPMContext method that executes a command
// on the TPM if the TPM response code indicates a vendor-specific error.
type TPMVendorError struct {
	Command CommandCode  // Command code associated with this error
	Code    ResponseCode // Response code
}

func (e *TPMVendorError) Error() string {
	return fmt.Sprintf("TPM returned a vendor defined error whilst executing command %s: 0x%08x", e.Command, e.Code)
}

// TPMWarning is returned from DecodeResponseCode and any TPMContext method that executes a command on
// the TPM if the TPM response code indicates a condition that is not necessarily an error.
type TPMWarning struct {
	Command CommandCode // Command code associated with this error
	Code    WarningCode // Warning code
}

func (e *TPMWarning) Error() string {
	var builder bytes.Buffer
	fmt.Fprintf(&builder, "TPM returned a warning whilst executing command %s: %s", e.Command, e.Code)
	if desc, hasDesc := warningCodeDescriptions[e.Code]; hasDesc {
		fmt.Fprintf(&builder, " (%s)", desc)
	}
	return builder.String()
}

// TPMError is returned from DecodeResponseCode and any TPMContext method that executes a command on the
// TPM if the TPM response code indicates an error that is not associated with a handle, parameter or
// session.
type TPMError struct {
	Command CommandCode // Command code associated with this error
	Code    ErrorCode   // Error code
}

func (e *TPMError) Error() string {
	var builder bytes.Buffer
	fmt.Fprintf(&builder, "TPM returned an error whilst executing command %s: %s", e.Command, e.Code)
	if desc, hasDesc := errorCodeDescriptions[e.Code]; hasDesc {
		fmt.Fprintf(&builder, " (%s)", desc)
	}
	return builder.String()
}

// TPMParameterError is returned from DecodeResponseCode and any TPMContext method that executes a
// command on the TPM if the TPM response code indicates an error that is associated with a command
// parameter. It wraps a *TPMError.
type TPMParameterError struct {
	*TPMError
	Index int // Index of the parameter associated with this error in the command parameter area, starting from 1
}

func (e *TPMParameterError) Error() string {
	var builder bytes.Buffer
	fmt.Fprintf(&builder, "TPM returned an error for parameter %d whilst executing command %s: %s", e.Index, e.Command, e.Code)
	if desc, hasDesc := errorCodeDescriptions[e.Code]; hasDesc {
		fmt.Fprintf(&builder, " (%s)", desc)
	}
	return builder.String()
}

func (e *TPMParameterError) Unwrap() error {
	return e.TPMError
}

// TPMSessionError is returned from DecodeResponseCode and any TPMContext method that executes a command
// on the TPM if the TPM response code indicates an error that is associated with a session. It wraps a
// *TPMError.
type TPMSessionError struct {
	*TPMError
	Index int // Index of the session associated with this error in the authorization area, starting from 1
}

func (e *TPMSessionError) Error() string {
	var builder bytes.Buffer
	fmt.Fprintf(&builder, "TPM returned an error for session %d whilst executing command %s: %s", e.Index, e.Command, e.Code)
	if desc, hasDesc := errorCodeDescriptions[e.Code]; hasDesc {
		fmt.Fprintf(&builder, " (%s)", desc)
	}
	return builder.String()
}

func (e *TPMSessionError) Unwrap() error {
	return e.TPMError
}

// TPMHandleError is returned from DecodeResponseCode and any TPMContext method that executes a command
// on the TPM if the TPM response code indicates an error that is associated with a command handle. It
// wraps a *TPMError.
type TPMHandleError struct {
	*TPMError
	// Index is the index of the handle associated with this error in the command handle area, starting
	// from 1. An index of 0 corresponds to an unspecified handle
	Index int
}

func (e *TPMHandleError) Error() string {
	var builder bytes.Buffer
	fmt.Fprintf(&builder, "TPM returned an error for handle %d whilst executing command %s: %s", e.Index, e.Command, e.Code)
	if desc, hasDesc := errorCodeDescriptions[e.Code]; hasDesc {
		fmt.Fprintf(&builder, " (%s)", desc)
	}
	return builder.String()
}

func (e *TPMHandleError) Unwrap() error {
	return e.TPMError
}

// AsTPMError indicates whether the error or any error within its chain is a *TPMError with the specified
// ErrorCode and CommandCode, and sets out to the value of error if it is. To test for any error code, use
// AnyErrorCode. To test for any command code, use AnyCommandCode. This will panic if out is nil.
func AsTPMError(err error, code ErrorCode, command CommandCode, out **TPMError) bool {
	return xerrors.As(err, out) && (code == AnyErrorCode || (*out).Code == code) && (command == AnyCommandCode || (*out).Command == command)
}

// IsTPMError indicates whether the error or any error within its chain is a *TPMError with the specified
// ErrorCode and CommandCode.
func IsTPMError(err error, code ErrorCode, command CommandCode) bool {
	var e *TPMError
	return AsTPMError(err, code, command, &e)
}

// AsTPMHandleError indicates whether the error or any error within its chain is a *TPMHandleError with the
// specified ErrorCode, CommandCode and handle index, and sets out to the value of error if it is.
func AsTPMHandleError(err error, code ErrorCode, command CommandCode, handle int, out **TPMHandleError) bool {
	return xerrors.As(err, out) && (code == AnyErrorCode || (*out).Code == code) && (command == AnyCommandCode || (*out).Command == command) && (handle == AnyHandleIndex || (*out).Index == handle)
}

// IsTPMHandleError indicates whether the error or any error within its chain is a *TPMHandleError with the
// specified ErrorCode, CommandCode and handle index.
func IsTPMHandleError(err error, code ErrorCode, command CommandCode, handle int) bool {
	var e *TPMHandleError
	return AsTPMHandleError(err, code, command, handle, &e)
}

// AsTPMParameterError indicates whether the error or any error within its chain is a *TPMParameterError
// with the specified ErrorCode, CommandCode and parameter index, and sets out to the value of error if it
// is.
func AsTPMParameterError(err error, code ErrorCode, command CommandCode, param int, out **TPMParameterError) bool {
	return xerrors.As(err, out) && (code == AnyErrorCode || (*out).Code == code) && (command == AnyCommandCode || (*out).Command == command) && (param == AnyParameterIndex || (*out).Index == param)
}

// IsTPMParameterError indicates whether the error or any error within its chain is a *TPMParameterError
// with the specified ErrorCode, CommandCode and parameter index.
func IsTPMParameterError(err error, code ErrorCode, command CommandCode, param int) bool {
	var e *TPMParameterError
	return AsTPMParameterError(err, code, command, param, &e)
}

// AsTPMSessionError indicates whether the error or any error within its chain is a *TPMSessionError with
// the specified ErrorCode, CommandCode and session index, and sets out to the value of error if it is.
func AsTPMSessionError(err error, code ErrorCode, command CommandCode, session int, out **TPMSessionError) bool {
	return xerrors.As(err, out) && (code == AnyErrorCode || (*out).Code == code) && (command == AnyCommandCode || (*out).Command == command) && (session == AnySessionIndex || (*out).Index == session)
}

// IsTPMSessionError indicates whether the error or any error within its chain is a *TPMSessionError with
// the specified ErrorCode, CommandCode and session index.
func IsTPMSessionError(err error, code ErrorCode, command CommandCode, session int) bool {
	var e *TPMSessionError
	return AsTPMSessionError(err, code, command, session, &e)
}

// AsTPMWarning indicates whether the error or any error within its chain is a *TPMWarning with the
// specified WarningCode and CommandCode, and sets out to the value of error if it is.
func AsTPMWarning(err error, code WarningCode, command CommandCode, out **TPMWarning) bool {
	return xerrors.As(err, out) && (code == AnyWarningCode || (*out).Code == code) && (command == AnyCommandCode || (*out).Command == command)
}

// IsTPMWarning indicates whether the error or any error within its chain is a *TPMWarning with the
// specified WarningCode and CommandCode.
func IsTPMWarning(err error, code WarningCode, command CommandCode) bool {
	var e *TPMWarning
	return AsTPMWarning(err, code, command, &e)
}

const (
	formatMask ResponseCode = 1 << 7 // Bit 7 indicates whether the error is a format-zero or format-one code

	fmt0ErrorCodeMask ResponseCode = 0x7f    // Format-zero error numbers are 7-bits
	fmt0VersionMask   ResponseCode = 1 << 8  // Bit 8 of format-zero errors is zero for TPM1.2 errors and one for TPM2 errors
	fmt0VendorMask    ResponseCode = 1 << 10 // Bit 10 of format-zero errors is zero for TCG defined errors and one for vendor defined errors
	fmt0SeverityMask  ResponseCode = 1 << 11 // Bit 11 of format-zero errors is zero for errors and one for warnings

	fmt1ErrorCodeMask            ResponseCode = 0x3f                  // Format-one error numbers are 6-bits
	fmt1IndexShift               uint         = 8                     // Offset of the index field in format-one errors
	fmt1ParameterIndexMask       ResponseCode = 0xf << fmt1IndexShift // Parameter indices in format-one errors are 4-bits
	fmt1HandleOrSessionIndexMask ResponseCode = 0x7 << fmt1IndexShift // Handle or session indices in format-one errors are 3-bits
	// Bit 6 of format-one errors is zero for errors associated with a handle or session, and one for
	// errors associated with a parameter
	fmt1ParameterMask ResponseCode = 1 << 6
	// Bit 11 of format-one errors associated with a handle or session (bit 3 of the index) is zero for
	// errors associated with a handle and one for errors associated with a session.
	fmt1SessionMask ResponseCode = 1 << 11
)

// DecodeResponseCode decodes the ResponseCode provided via resp. If the specified response code is
// ResponseSuccess, it returns no error, else it returns an error that is appropriate for the response
// code. The command code is used for adding context to the returned error.
func DecodeResponseCode(command CommandCode, resp ResponseCode) error {
	switch {
	case resp == ResponseSuccess:
		return nil
	case resp&formatMask == 0:
		// Format 0 error codes
		switch {
		case resp&fmt0VersionMask == 0:
			return &TPM1Error{command, resp}
		case resp&fmt0VendorMask > 0:
			return &TPMVendorError{command, resp}
		case resp&fmt0SeverityMask > 0:
			return &TPMWarning{command, WarningCode(resp & fmt0ErrorCodeMask)}
		default:
			return &TPMError{command, ErrorCode(resp & fmt0ErrorCodeMask)}
		}
	default:
		// Format 1 error codes
		err := &TPMError{command, ErrorCode(resp&fmt1ErrorCodeMask) + errorCode1Start}
		switch {
		case resp&fmt1ParameterMask > 0:
			return &TPMParameterError{err, int((resp & fmt1ParameterIndexMask) >> fmt1IndexShift)}
		case resp&fmt1SessionMask > 0:
			return &TPMSessionError{err, int((resp & fmt1HandleOrSessionIndexMask) >> fmt1IndexShift)}
		case resp&fmt1HandleOrSessionIndexMask > 0:
			return &TPMHandleError{err, int((resp & fmt1HandleOrSessionIndexMask) >> fmt1IndexShift)}
		default:
			return err
		}
	}
}

// isResubmittable indicates whether the supplied error is a warning that means the command
// can be submitted again unmodified.
func isResubmittable(err error) bool {
	var w *TPMWarning
	if !xerrors.As(err, &w) {
		return false
	}
	switch w.Code {
	case WarningYielded, WarningTesting, WarningRetry:
		return true
	default:
		return false
	}
}
