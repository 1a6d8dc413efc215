// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

// Section 28 - Context Management

import (
	"github.com/canonical/go-tpm2session/mu"
)

// FlushContext executes the TPM2_FlushContext command to remove the transient object or session
// with the specified handle from the TPM. This command cannot carry an authorization area.
//
// If the handle does not correspond to a loaded resource, a *TPMParameterError with an error
// code of ErrorHandle is returned for parameter index 1.
func (t *TPMContext) FlushContext(handle Handle) error {
	cpBytes := mu.MustMarshalToBytes(handle)

	rpBytes, _, err := t.RunCommand(CommandFlushContext, nil, nil, cpBytes, nil)
	if err != nil {
		return err
	}

	return completeResponse(CommandFlushContext, rpBytes)
}
