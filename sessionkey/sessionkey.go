// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

/*
Package sessionkey computes the session key of a started authorization session.

The session key is used by the caller to compute command HMACs and to perform parameter
encryption. It is derived from the authorization value of the bound entity, the salt that was
encrypted to the salting key and the nonces exchanged when the session was started. Sessions
that are neither bound nor salted have an empty session key.
*/
package sessionkey

import (
	"fmt"

	"github.com/canonical/go-tpm2session/internal/crypt"
	"github.com/canonical/go-tpm2session/tpm2"
)

// Session is the subset of *tpm2session.Session used to derive the session key.
type Session interface {
	Check() error
	AuthHash() tpm2.HashAlgorithmId
	Key() tpm2.Handle
	Bind() tpm2.Handle
	NonceCaller() tpm2.Nonce
	NonceTPM() tpm2.Nonce
}

// Derive computes the session key for the supplied session. The authValue argument is the
// authorization value of the entity the session was bound to, and salt is the plaintext of the
// encrypted salt supplied when the session was started.
//
// The error from the session's Check method is returned if the session is no longer usable,
// which is tpm2session.ErrSessionClosed for a closed *tpm2session.Session.
//
// If the session was started without a bind entity and without a salting key, the session key
// is empty and a zero length slice is returned.
func Derive(session Session, authValue, salt []byte) ([]byte, error) {
	if err := session.Check(); err != nil {
		return nil, err
	}

	if session.Key() == tpm2.HandleNull && session.Bind() == tpm2.HandleNull {
		return []byte{}, nil
	}

	authHash := session.AuthHash()
	if !authHash.Available() {
		return nil, fmt.Errorf("unsupported session digest algorithm %v", authHash)
	}

	key := make([]byte, len(authValue)+len(salt))
	copy(key, authValue)
	copy(key[len(authValue):], salt)

	return crypt.KDFa(authHash.GetHash(), key, []byte("ATH"), session.NonceTPM(), session.NonceCaller(), authHash.Size()*8), nil
}
