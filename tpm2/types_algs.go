// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

import (
	"crypto"
	"fmt"
	"hash"
	"io"

	"github.com/canonical/go-tpm2session/mu"

	"golang.org/x/xerrors"
)

// This file contains types defined in sections 9 (Interface Types),
// 10 (Structure Definitions) and 11 (Algorithm Parameters and
// Structures) in part 2 of the library spec.

// HashAlgorithmId corresponds to the TPMI_ALG_HASH type.
type HashAlgorithmId AlgorithmId

const (
	HashAlgorithmNull     HashAlgorithmId = HashAlgorithmId(AlgorithmNull)
	HashAlgorithmSHA1     HashAlgorithmId = HashAlgorithmId(AlgorithmSHA1)
	HashAlgorithmSHA256   HashAlgorithmId = HashAlgorithmId(AlgorithmSHA256)
	HashAlgorithmSHA384   HashAlgorithmId = HashAlgorithmId(AlgorithmSHA384)
	HashAlgorithmSHA512   HashAlgorithmId = HashAlgorithmId(AlgorithmSHA512)
	HashAlgorithmSM3_256  HashAlgorithmId = HashAlgorithmId(AlgorithmSM3_256)
	HashAlgorithmSHA3_256 HashAlgorithmId = HashAlgorithmId(AlgorithmSHA3_256)
	HashAlgorithmSHA3_384 HashAlgorithmId = HashAlgorithmId(AlgorithmSHA3_384)
	HashAlgorithmSHA3_512 HashAlgorithmId = HashAlgorithmId(AlgorithmSHA3_512)
)

type knownDigest struct {
	constructor crypto.Hash
	size        int
}

var knownDigests = map[HashAlgorithmId]knownDigest{
	HashAlgorithmSHA1:     {constructor: crypto.SHA1, size: 20},
	HashAlgorithmSHA256:   {constructor: crypto.SHA256, size: 32},
	HashAlgorithmSHA384:   {constructor: crypto.SHA384, size: 48},
	HashAlgorithmSHA512:   {constructor: crypto.SHA512, size: 64},
	HashAlgorithmSM3_256:  {size: 32},
	HashAlgorithmSHA3_256: {constructor: crypto.SHA3_256, size: 32},
	HashAlgorithmSHA3_384: {constructor: crypto.SHA3_384, size: 48},
	HashAlgorithmSHA3_512: {constructor: crypto.SHA3_512, size: 64},
}

// IsValid determines whether the digest algorithm is valid. This should
// be checked by code that deserializes an algorithm before calling Size
// if it does not want to panic.
func (a HashAlgorithmId) IsValid() bool {
	_, isValid := knownDigests[a]
	return isValid
}

// Available determines if the TPM digest algorithm has an equivalent go
// crypto.Hash that is linked into the current binary.
func (a HashAlgorithmId) Available() bool {
	return a.GetHash().Available()
}

// GetHash returns the equivalent crypto.Hash value for this algorithm if
// one exists, and 0 if one does not exist.
func (a HashAlgorithmId) GetHash() crypto.Hash {
	return knownDigests[a].constructor
}

// NewHash constructs a new hash.Hash implementation for this algorithm.
// It will panic if HashAlgorithmId.Available returns false.
func (a HashAlgorithmId) NewHash() hash.Hash {
	return a.GetHash().New()
}

// Size returns the size of the algorithm. It will panic if
// HashAlgorithmId.IsValid returns false.
func (a HashAlgorithmId) Size() int {
	known, isKnown := knownDigests[a]
	if !isKnown {
		panic(fmt.Sprintf("unknown digest algorithm: %v", a))
	}
	return known.size
}

func (a HashAlgorithmId) String() string {
	switch a {
	case HashAlgorithmNull:
		return "TPM_ALG_NULL"
	case HashAlgorithmSHA1:
		return "TPM_ALG_SHA1"
	case HashAlgorithmSHA256:
		return "TPM_ALG_SHA256"
	case HashAlgorithmSHA384:
		return "TPM_ALG_SHA384"
	case HashAlgorithmSHA512:
		return "TPM_ALG_SHA512"
	case HashAlgorithmSM3_256:
		return "TPM_ALG_SM3_256"
	case HashAlgorithmSHA3_256:
		return "TPM_ALG_SHA3_256"
	case HashAlgorithmSHA3_384:
		return "TPM_ALG_SHA3_384"
	case HashAlgorithmSHA3_512:
		return "TPM_ALG_SHA3_512"
	default:
		return fmt.Sprintf("0x%04x", uint16(a))
	}
}

// SymAlgorithmId corresponds to the TPMI_ALG_SYM type.
type SymAlgorithmId AlgorithmId

const (
	SymAlgorithmAES      SymAlgorithmId = SymAlgorithmId(AlgorithmAES)
	SymAlgorithmXOR      SymAlgorithmId = SymAlgorithmId(AlgorithmXOR)
	SymAlgorithmNull     SymAlgorithmId = SymAlgorithmId(AlgorithmNull)
	SymAlgorithmSM4      SymAlgorithmId = SymAlgorithmId(AlgorithmSM4)
	SymAlgorithmCamellia SymAlgorithmId = SymAlgorithmId(AlgorithmCamellia)
)

// IsValidBlockCipher determines if this algorithm is a valid block cipher.
func (a SymAlgorithmId) IsValidBlockCipher() bool {
	switch a {
	case SymAlgorithmAES, SymAlgorithmSM4, SymAlgorithmCamellia:
		return true
	default:
		return false
	}
}

// SymModeId corresponds to the TPMI_ALG_SYM_MODE type.
type SymModeId AlgorithmId

const (
	SymModeNull SymModeId = SymModeId(AlgorithmNull)
	SymModeCTR  SymModeId = SymModeId(AlgorithmCTR)
	SymModeOFB  SymModeId = SymModeId(AlgorithmOFB)
	SymModeCBC  SymModeId = SymModeId(AlgorithmCBC)
	SymModeCFB  SymModeId = SymModeId(AlgorithmCFB)
	SymModeECB  SymModeId = SymModeId(AlgorithmECB)
)

// SymDef corresponds to the TPMT_SYM_DEF type, and is used to select the algorithm
// used for parameter encryption.
//
// The TPMU_SYM_KEY_BITS and TPMU_SYM_MODE unions are flattened in to the KeyBits and
// Mode fields. Their presence on the wire depends on Algorithm:
//   - SymAlgorithmNull: neither field is marshalled.
//   - SymAlgorithmXOR: KeyBits is marshalled and contains the HashAlgorithmId of the
//     XOR obfuscation. Mode is not marshalled.
//   - any block cipher: both fields are marshalled.
type SymDef struct {
	Algorithm SymAlgorithmId // Symmetric algorithm
	KeyBits   uint16         // Symmetric key size, or hash algorithm for XOR
	Mode      SymModeId      // Symmetric mode
}

// MakeSymDefNull returns a SymDef that disables parameter encryption.
func MakeSymDefNull() SymDef {
	return SymDef{Algorithm: SymAlgorithmNull}
}

// IsNull indicates whether this definition disables parameter encryption.
func (d *SymDef) IsNull() bool {
	return d == nil || d.Algorithm == SymAlgorithmNull
}

// Marshal implements mu.CustomMarshaller.
func (d SymDef) Marshal(w io.Writer) error {
	switch {
	case d.Algorithm == SymAlgorithmNull:
		_, err := mu.MarshalToWriter(w, d.Algorithm)
		return err
	case d.Algorithm == SymAlgorithmXOR:
		_, err := mu.MarshalToWriter(w, d.Algorithm, d.KeyBits)
		return err
	default:
		_, err := mu.MarshalToWriter(w, d.Algorithm, d.KeyBits, d.Mode)
		return err
	}
}

// Unmarshal implements mu.CustomUnmarshaller.
func (d *SymDef) Unmarshal(r io.Reader) error {
	if _, err := mu.UnmarshalFromReader(r, &d.Algorithm); err != nil {
		return xerrors.Errorf("cannot unmarshal algorithm: %w", err)
	}
	d.KeyBits = 0
	d.Mode = 0

	switch {
	case d.Algorithm == SymAlgorithmNull:
		return nil
	case d.Algorithm == SymAlgorithmXOR:
		if _, err := mu.UnmarshalFromReader(r, &d.KeyBits); err != nil {
			return xerrors.Errorf("cannot unmarshal key bits: %w", err)
		}
		return nil
	default:
		if _, err := mu.UnmarshalFromReader(r, &d.KeyBits, &d.Mode); err != nil {
			return xerrors.Errorf("cannot unmarshal key bits and mode: %w", err)
		}
		return nil
	}
}

// Digest corresponds to the TPM2B_DIGEST type.
type Digest []byte

// Nonce corresponds to the TPM2B_NONCE type.
type Nonce Digest

// Auth corresponds to the TPM2B_AUTH type.
type Auth Digest

// EncryptedSecret corresponds to the TPM2B_ENCRYPTED_SECRET type.
type EncryptedSecret []byte

const (
	// MaxDigestSize is the size of the TPMU_HA union, and is the largest digest that
	// any of the supported algorithms produce. It bounds TPM2B_NONCE.
	MaxDigestSize = 64

	// MaxEncryptedSecretSize is the size of the TPMU_ENCRYPTED_SECRET union for a
	// TPM that supports 4096-bit RSA keys.
	MaxEncryptedSecretSize = 512
)
