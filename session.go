// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2session

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"golang.org/x/xerrors"

	"github.com/canonical/go-tpm2session/tpm2"
)

// ErrSessionClosed is returned when a Session is used after it has been closed.
var ErrSessionClosed = errors.New("session is closed")

// Starter is the TPM capability used to start and flush sessions. It is implemented by
// *tpm2.TPMContext.
//
// StartAuthSession executes TPM2_StartAuthSession with the supplied arguments and returns the
// new session handle and the TPM's nonce. A non-success response code from the TPM must be
// returned as an error.
//
// FlushContext executes TPM2_FlushContext for the supplied handle.
type Starter interface {
	StartAuthSession(tpmKey, bind tpm2.Handle, nonceCaller tpm2.Nonce, encryptedSalt tpm2.EncryptedSecret, sessionType tpm2.SessionType, symmetric *tpm2.SymDef, authHash tpm2.HashAlgorithmId, authArea ...tpm2.AuthCommand) (tpm2.Handle, tpm2.Nonce, []tpm2.AuthResponse, error)
	FlushContext(handle tpm2.Handle) error
}

// StartError is returned from Start when a session could not be started.
type StartError struct {
	Type tpm2.SessionType
	err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("cannot start %v session: %v", e.Type, e.err)
}

func (e *StartError) Unwrap() error {
	return e.err
}

// Session is a live authorization session on the TPM, created by Start. It occupies a TPM
// session slot until Close is called.
//
// After Close, every accessor returns a null value: Handle, Key and Bind return HandleNull,
// AuthHash returns HashAlgorithmNull, Symmetric returns a null definition, IsBound and
// IsSalted return false and the nonce accessors return nil. Check returns ErrSessionClosed.
//
// A Session is not safe for concurrent use.
type Session struct {
	tpm Starter

	handle      tpm2.Handle
	authHash    tpm2.HashAlgorithmId
	sessionType tpm2.SessionType
	key         tpm2.Handle
	bind        tpm2.Handle
	salted      bool
	symmetric   tpm2.SymDef
	nonceCaller tpm2.Nonce
	nonceTPM    tpm2.Nonce
}

// Start starts a session on the TPM using the supplied parameters. TPM2_StartAuthSession is
// executed exactly once: if it fails, no session is returned and the error, which is a
// *StartError, wraps the error from tpm. Errors from the TPM are one of the tpm2.TPMError
// family of types.
//
// The parameters are not modified or retained, and the caller may adjust them and try again.
// The returned session records the auth hash from the parameters and the handle and nonce
// returned by the TPM.
func Start(tpm Starter, params *Parameters) (*Session, error) {
	if tpm == nil {
		return nil, errors.New("no TPM supplied")
	}
	if params == nil {
		return nil, errors.New("no parameters supplied")
	}

	symmetric := params.symmetric
	handle, nonceTPM, _, err := tpm.StartAuthSession(params.key, params.bind, params.NonceCaller(), params.EncryptedSalt(),
		params.sessionType, &symmetric, params.authHash)
	if err != nil {
		return nil, &StartError{Type: params.sessionType, err: err}
	}

	return &Session{
		tpm:         tpm,
		handle:      handle,
		authHash:    params.authHash,
		sessionType: params.sessionType,
		key:         params.key,
		bind:        params.bind,
		salted:      params.key != tpm2.HandleNull,
		symmetric:   params.symmetric,
		nonceCaller: params.NonceCaller(),
		nonceTPM:    append(tpm2.Nonce(nil), nonceTPM...)}, nil
}

// With starts a session with Start, calls fn with it and closes it when fn returns, including
// if fn panics. If fn closes the session itself, it is not closed again. An error returned from
// fn and an error from closing the session are combined in to a *multierror.Error.
func With(tpm Starter, params *Parameters, fn func(*Session) error) (err error) {
	s, err := Start(tpm, params)
	if err != nil {
		return err
	}

	defer func() {
		if !s.IsOpen() {
			return
		}
		if closeErr := s.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}()

	return fn(s)
}

// IsOpen indicates whether the session is live. It returns false for a nil session.
func (s *Session) IsOpen() bool {
	return s != nil && s.tpm != nil
}

// Check returns ErrSessionClosed if the session has been closed.
func (s *Session) Check() error {
	if !s.IsOpen() {
		return ErrSessionClosed
	}
	return nil
}

// Handle returns the handle of the session, or HandleNull if it has been closed.
func (s *Session) Handle() tpm2.Handle {
	if !s.IsOpen() {
		return tpm2.HandleNull
	}
	return s.handle
}

// AuthHash returns the session digest algorithm, or HashAlgorithmNull if it has been closed.
func (s *Session) AuthHash() tpm2.HashAlgorithmId {
	if !s.IsOpen() {
		return tpm2.HashAlgorithmNull
	}
	return s.authHash
}

// Type returns the type of the session. It returns 0 if the session has been closed.
func (s *Session) Type() tpm2.SessionType {
	if !s.IsOpen() {
		return 0
	}
	return s.sessionType
}

// Key returns the handle of the key that was used to salt the session, or HandleNull.
func (s *Session) Key() tpm2.Handle {
	if !s.IsOpen() {
		return tpm2.HandleNull
	}
	return s.key
}

// Bind returns the handle of the entity that was supplied as the bind argument, or HandleNull.
func (s *Session) Bind() tpm2.Handle {
	if !s.IsOpen() {
		return tpm2.HandleNull
	}
	return s.bind
}

// IsBound indicates whether the session is bound to an entity. Only HMAC sessions can be bound.
func (s *Session) IsBound() bool {
	return s.IsOpen() && s.sessionType == tpm2.SessionTypeHMAC && s.bind != tpm2.HandleNull
}

// IsSalted indicates whether the session was started with a salt.
func (s *Session) IsSalted() bool {
	return s.IsOpen() && s.salted
}

// Symmetric returns a copy of the parameter encryption algorithm of the session.
func (s *Session) Symmetric() *tpm2.SymDef {
	sym := tpm2.MakeSymDefNull()
	if s.IsOpen() {
		sym = s.symmetric
	}
	return &sym
}

// NonceCaller returns a copy of the initial caller nonce, or nil if the session has been
// closed.
func (s *Session) NonceCaller() tpm2.Nonce {
	if !s.IsOpen() {
		return nil
	}
	return append(tpm2.Nonce(nil), s.nonceCaller...)
}

// NonceTPM returns a copy of the nonce returned by the TPM when the session was started, or
// nil if the session has been closed.
func (s *Session) NonceTPM() tpm2.Nonce {
	if !s.IsOpen() {
		return nil
	}
	return append(tpm2.Nonce(nil), s.nonceTPM...)
}

// Close flushes the session from the TPM and invalidates it. The session is invalidated even
// if the flush fails, in which case the error is returned so that it can be logged. Closing an
// already closed session returns ErrSessionClosed without sending anything to the TPM.
func (s *Session) Close() error {
	if !s.IsOpen() {
		return ErrSessionClosed
	}

	tpm := s.tpm
	handle := s.handle

	s.tpm = nil
	s.handle = tpm2.HandleNull
	s.authHash = tpm2.HashAlgorithmNull
	s.sessionType = 0
	s.key = tpm2.HandleNull
	s.bind = tpm2.HandleNull
	s.salted = false
	s.symmetric = tpm2.MakeSymDefNull()
	s.nonceCaller = nil
	s.nonceTPM = nil

	if err := tpm.FlushContext(handle); err != nil {
		return xerrors.Errorf("cannot flush session %v: %w", handle, err)
	}
	return nil
}
