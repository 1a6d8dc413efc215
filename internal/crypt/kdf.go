// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package crypt contains the key derivation used by the session key computation.
package crypt

import (
	"crypto"

	kdf "github.com/canonical/go-sp800.108-kdf"
)

// KDFa performs key derivation using the counter mode described in SP800-108
// and HMAC as the PRF. The context is the concatenation of contextU and contextV.
func KDFa(hashAlg crypto.Hash, key, label, contextU, contextV []byte, sizeInBits int) []byte {
	context := make([]byte, len(contextU)+len(contextV))
	copy(context, contextU)
	copy(context[len(contextU):], contextV)
	return kdf.CounterModeKey(kdf.NewHMACPRF(hashAlg), key, label, context, uint32(sizeInBits))
}
