// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

/*
Package tpm2session manages the lifecycle of TPM 2.0 authorization sessions.

This documentation refers to TPM commands and types that are described in more detail in the TPM 2.0 Library Specification, which can
be found at https://trustedcomputinggroup.org/resource/tpm-library-specification/. Knowledge of this specification is assumed in this
documentation.

A session is described by a Parameters value, which is created with NewParameters and customized with its setters. The session is
started on a TPM with Start, which executes TPM2_StartAuthSession exactly once via the supplied Starter. The returned Session exposes
the identity of the live session (its handle, hash algorithm, type, bind and salt relationships and nonces) to code that builds
authorized commands. A session occupies one of a small number of session slots on the TPM and must be released with Session.Close.

Quick start

In order to start a policy session on a Linux TPM character device:
 transport, err := linux.OpenDevice("/dev/tpmrm0")
 if err != nil {
	return err
 }
 tpm := tpm2.NewTPMContext(transport)
 defer tpm.Close()

 params := tpm2session.NewParameters(tpm2.SessionTypePolicy)
 if err := params.RandomizeNonceCaller(rand.Reader); err != nil {
	return err
 }
 session, err := tpm2session.Start(tpm, params)
 if err != nil {
	return err
 }
 defer session.Close()

With scopes a session to a function, and releases it when the function returns:
 err := tpm2session.With(tpm, params, func(session *tpm2session.Session) error {
	fmt.Printf("session handle: %v\n", session.Handle())
	return nil
 })

The session key for salted or bound sessions can be computed with the sessionkey package.
*/
package tpm2session
