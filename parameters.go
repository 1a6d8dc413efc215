// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2session

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/xerrors"

	"github.com/canonical/go-tpm2session/tpm2"
)

const (
	// DefaultAuthHash is the session digest algorithm selected by NewParameters.
	DefaultAuthHash = tpm2.HashAlgorithmSHA256

	// MaxNonceSize is the largest caller nonce accepted by Parameters.SetNonceCaller.
	MaxNonceSize = tpm2.MaxDigestSize

	// MaxEncryptedSaltSize is the largest encrypted salt accepted by
	// Parameters.SetEncryptedSalt.
	MaxEncryptedSaltSize = tpm2.MaxEncryptedSecretSize
)

// ParameterSizeError is returned from a Parameters setter when the supplied value is larger
// than the TPM structure it is sent in can hold.
type ParameterSizeError struct {
	Field string // Name of the parameter
	Size  int    // Size of the supplied value
	Max   int    // Maximum size of the parameter
}

func (e *ParameterSizeError) Error() string {
	return fmt.Sprintf("%s is too large (%d bytes, maximum %d)", e.Field, e.Size, e.Max)
}

// Parameters describes how a session should be started with Start. The zero value is not
// valid, use NewParameters to create one.
//
// The setters do not check fields against each other. The TPM validates the combination when
// the session is started: for example, an encrypted salt must only be supplied with a key,
// and the caller nonce must be between 16 bytes and the digest size of the auth hash.
//
// Starting a session does not modify the parameters, so the same value can be used for
// several attempts.
type Parameters struct {
	sessionType   tpm2.SessionType
	key           tpm2.Handle
	bind          tpm2.Handle
	encryptedSalt tpm2.EncryptedSecret
	symmetric     tpm2.SymDef
	authHash      tpm2.HashAlgorithmId
	nonceCaller   tpm2.Nonce
}

// NewParameters returns parameters for a session of the specified type. The key and bind
// handles are HandleNull, there is no encrypted salt or parameter encryption, the auth hash
// is DefaultAuthHash, and the caller nonce is zero-filled with the length of a
// DefaultAuthHash digest (32 bytes). This differs from implementations that size the default
// nonce by SHA-1 (20 bytes): here the default nonce always matches the default auth hash. The
// nonce is not resized by SetAuthHash. RandomizeNonceCaller can be used to obtain a fresh nonce.
func NewParameters(sessionType tpm2.SessionType) *Parameters {
	return &Parameters{
		sessionType: sessionType,
		key:         tpm2.HandleNull,
		bind:        tpm2.HandleNull,
		symmetric:   tpm2.MakeSymDefNull(),
		authHash:    DefaultAuthHash,
		nonceCaller: make(tpm2.Nonce, DefaultAuthHash.Size())}
}

// SessionType returns the type of session to start.
func (p *Parameters) SessionType() tpm2.SessionType {
	return p.sessionType
}

// Key returns the handle of the key used to encrypt the salt.
func (p *Parameters) Key() tpm2.Handle {
	return p.key
}

// SetKey sets the handle of a loaded key that the salt has been encrypted to. Use HandleNull
// for an unsalted session.
func (p *Parameters) SetKey(key tpm2.Handle) {
	p.key = key
}

// Bind returns the handle of the entity that the session is bound to.
func (p *Parameters) Bind() tpm2.Handle {
	return p.bind
}

// SetBind sets the handle of the entity to bind the session to. Use HandleNull for an
// unbound session.
func (p *Parameters) SetBind(bind tpm2.Handle) {
	p.bind = bind
}

// EncryptedSalt returns a copy of the encrypted salt.
func (p *Parameters) EncryptedSalt() tpm2.EncryptedSecret {
	return append(tpm2.EncryptedSecret(nil), p.encryptedSalt...)
}

// SetEncryptedSalt sets the salt, encrypted to the key set with SetKey. The value is copied.
// A *ParameterSizeError is returned if it is larger than MaxEncryptedSaltSize, in which case
// the current value is kept.
func (p *Parameters) SetEncryptedSalt(salt []byte) error {
	if len(salt) > MaxEncryptedSaltSize {
		return &ParameterSizeError{Field: "encrypted salt", Size: len(salt), Max: MaxEncryptedSaltSize}
	}
	p.encryptedSalt = append(tpm2.EncryptedSecret(nil), salt...)
	return nil
}

// Symmetric returns a copy of the parameter encryption algorithm.
func (p *Parameters) Symmetric() *tpm2.SymDef {
	sym := p.symmetric
	return &sym
}

// SetSymmetric sets the algorithm used for parameter encryption. A nil value disables
// parameter encryption.
func (p *Parameters) SetSymmetric(symmetric *tpm2.SymDef) {
	if symmetric == nil {
		p.symmetric = tpm2.MakeSymDefNull()
		return
	}
	p.symmetric = *symmetric
}

// AuthHash returns the session digest algorithm.
func (p *Parameters) AuthHash() tpm2.HashAlgorithmId {
	return p.authHash
}

// SetAuthHash sets the digest algorithm used for the session's HMACs, policy digest and key
// derivation. It does not change the caller nonce.
func (p *Parameters) SetAuthHash(alg tpm2.HashAlgorithmId) {
	p.authHash = alg
}

// NonceCaller returns a copy of the initial caller nonce.
func (p *Parameters) NonceCaller() tpm2.Nonce {
	return append(tpm2.Nonce(nil), p.nonceCaller...)
}

// SetNonceCaller sets the initial caller nonce. The value is copied. A *ParameterSizeError is
// returned if it is larger than MaxNonceSize, in which case the current value is kept.
func (p *Parameters) SetNonceCaller(nonce []byte) error {
	if len(nonce) > MaxNonceSize {
		return &ParameterSizeError{Field: "caller nonce", Size: len(nonce), Max: MaxNonceSize}
	}
	p.nonceCaller = append(tpm2.Nonce(nil), nonce...)
	return nil
}

// RandomizeNonceCaller replaces the caller nonce with one read from the supplied source, with
// the digest size of the current auth hash. If r is nil, crypto/rand.Reader is used. On
// error, the current value is kept.
func (p *Parameters) RandomizeNonceCaller(r io.Reader) error {
	if !p.authHash.IsValid() {
		return fmt.Errorf("cannot determine nonce size: unsupported auth hash %v", p.authHash)
	}
	if r == nil {
		r = rand.Reader
	}

	nonce := make(tpm2.Nonce, p.authHash.Size())
	if _, err := io.ReadFull(r, nonce); err != nil {
		return xerrors.Errorf("cannot read nonce: %w", err)
	}
	p.nonceCaller = nonce
	return nil
}
