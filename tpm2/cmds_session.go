// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

// Section 11 - Session Commands

import (
	"github.com/canonical/go-tpm2session/mu"
)

// StartAuthSession executes the TPM2_StartAuthSession command to start an authorization session.
// The command is submitted to the TPM exactly once, regardless of the limit set by
// TPMContext.SetMaxSubmissions.
//
// The tpmKey argument is the handle of a loaded decrypt key used to encrypt the salt, or
// HandleNull for an unsalted session. If tpmKey is not HandleNull, encryptedSalt must contain
// the salt encrypted to it. The bind argument is the handle of an entity to bind the session
// to, or HandleNull.
//
// The caller supplies the initial caller nonce via nonceCaller. The TPM requires this to be
// between 16 bytes and the digest size of authHash.
//
// The sessionType argument specifies the type of session to create. A nil symmetric argument
// selects no parameter encryption. The authHash argument defines the algorithm used for computing
// command and response parameter digests, command and response HMACs, and derivation of the
// session key and symmetric keys for parameter encryption where used.
//
// An optional authorization area can be supplied for command auditing. It is sent verbatim and
// the response authorization area is returned without being checked.
//
// On success, the handle of the new session and the nonce generated by the TPM are returned.
// If the TPM rejects the command, a *TPMError, *TPMParameterError, *TPMHandleError,
// *TPMSessionError or *TPMWarning is returned. If the TPM has no room for another session, a
// *TPMWarning with a code of WarningSessionMemory or WarningSessionHandles will be returned.
func (t *TPMContext) StartAuthSession(tpmKey, bind Handle, nonceCaller Nonce, encryptedSalt EncryptedSecret, sessionType SessionType, symmetric *SymDef, authHash HashAlgorithmId, authArea ...AuthCommand) (sessionHandle Handle, nonceTPM Nonce, rAuthArea []AuthResponse, err error) {
	if symmetric == nil {
		symmetric = &SymDef{Algorithm: SymAlgorithmNull}
	}

	cpBytes := mu.MustMarshalToBytes(nonceCaller, encryptedSalt, sessionType, symmetric, authHash)

	rpBytes, rAuthArea, err := t.RunCommand(CommandStartAuthSession, HandleList{tpmKey, bind}, authArea, cpBytes, &sessionHandle)
	if err != nil {
		return HandleNull, nil, nil, err
	}

	if err := completeResponse(CommandStartAuthSession, rpBytes, &nonceTPM); err != nil {
		return HandleNull, nil, nil, err
	}

	return sessionHandle, nonceTPM, rAuthArea, nil
}
