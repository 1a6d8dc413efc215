// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

/*
Package tpm2 implements the parts of the TPM 2.0 wire protocol needed to manage authorization
sessions: the types used by TPM2_StartAuthSession and TPM2_FlushContext, command and response
packet serialization, decoding of response codes into typed errors, and TPMContext, which
executes commands over a Transport.

A TPMContext is created from a Transport, such as one returned from the linux or mssim
packages:

	transport, err := linux.OpenDevice("/dev/tpmrm0")
	if err != nil {
		return err
	}
	tpm := tpm2.NewTPMContext(transport)
	defer tpm.Close()

TPMContext implements the capability consumed by the tpm2session package.

Methods that execute commands on the TPM will return errors where the TPM responds with them.
These are in the form of *TPMError, *TPMWarning, *TPMHandleError, *TPMSessionError,
*TPMParameterError, *TPMVendorError and *TPM1Error types. Errors from the underlying
transport are returned as *TransportError, and malformed responses are returned as
*InvalidResponseError.

A TPMContext is not safe for use from multiple goroutines simultaneously.
*/
package tpm2
