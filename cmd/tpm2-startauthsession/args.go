// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/canonical/go-tpm2session/tpm2"
)

var sessionTypes = map[string]tpm2.SessionType{
	"hmac":   tpm2.SessionTypeHMAC,
	"policy": tpm2.SessionTypePolicy,
	"trial":  tpm2.SessionTypeTrial,
}

var hashAlgs = map[string]tpm2.HashAlgorithmId{
	"sha1":     tpm2.HashAlgorithmSHA1,
	"sha256":   tpm2.HashAlgorithmSHA256,
	"sha384":   tpm2.HashAlgorithmSHA384,
	"sha512":   tpm2.HashAlgorithmSHA512,
	"sm3_256":  tpm2.HashAlgorithmSM3_256,
	"sha3_256": tpm2.HashAlgorithmSHA3_256,
	"sha3_384": tpm2.HashAlgorithmSHA3_384,
	"sha3_512": tpm2.HashAlgorithmSHA3_512,
}

var symAlgs = map[string]tpm2.SymAlgorithmId{
	"aes":      tpm2.SymAlgorithmAES,
	"sm4":      tpm2.SymAlgorithmSM4,
	"camellia": tpm2.SymAlgorithmCamellia,
}

var symModes = map[string]tpm2.SymModeId{
	"cfb": tpm2.SymModeCFB,
	"ctr": tpm2.SymModeCTR,
	"ofb": tpm2.SymModeOFB,
	"cbc": tpm2.SymModeCBC,
	"ecb": tpm2.SymModeECB,
}

var namedHandles = map[string]tpm2.Handle{
	"null":        tpm2.HandleNull,
	"owner":       tpm2.HandleOwner,
	"endorsement": tpm2.HandleEndorsement,
	"platform":    tpm2.HandlePlatform,
	"lockout":     tpm2.HandleLockout,
}

func parseSessionType(s string) (tpm2.SessionType, error) {
	t, ok := sessionTypes[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("invalid session type %q", s)
	}
	return t, nil
}

func parseHashAlg(s string) (tpm2.HashAlgorithmId, error) {
	alg, ok := hashAlgs[strings.ToLower(s)]
	if !ok {
		return tpm2.HashAlgorithmNull, fmt.Errorf("invalid digest algorithm %q", s)
	}
	return alg, nil
}

// parseSymDef parses a parameter encryption algorithm. Block ciphers are written as the
// algorithm, key size and mode, eg "aes128cfb". XOR obfuscation is written as "xor-" followed
// by the digest algorithm, eg "xor-sha256".
func parseSymDef(s string) (*tpm2.SymDef, error) {
	s = strings.ToLower(s)

	switch {
	case s == "" || s == "null":
		sym := tpm2.MakeSymDefNull()
		return &sym, nil
	case strings.HasPrefix(s, "xor-"):
		alg, err := parseHashAlg(strings.TrimPrefix(s, "xor-"))
		if err != nil {
			return nil, xerrors.Errorf("invalid XOR algorithm: %w", err)
		}
		return &tpm2.SymDef{Algorithm: tpm2.SymAlgorithmXOR, KeyBits: uint16(alg)}, nil
	}

	for name, alg := range symAlgs {
		if !strings.HasPrefix(s, name) {
			continue
		}
		rest := strings.TrimPrefix(s, name)
		if len(rest) < 4 {
			break
		}
		keyBits, err := strconv.ParseUint(rest[:3], 10, 16)
		if err != nil {
			break
		}
		mode, ok := symModes[rest[3:]]
		if !ok {
			break
		}
		return &tpm2.SymDef{Algorithm: alg, KeyBits: uint16(keyBits), Mode: mode}, nil
	}

	return nil, fmt.Errorf("invalid symmetric algorithm %q", s)
}

// parseHandle parses a handle, which is either a number in a format accepted by
// strconv.ParseUint or one of the names of the permanent handles.
func parseHandle(s string) (tpm2.Handle, error) {
	if h, ok := namedHandles[strings.ToLower(s)]; ok {
		return h, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return tpm2.HandleNull, xerrors.Errorf("invalid handle %q: %w", s, err)
	}
	return tpm2.Handle(n), nil
}

func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
