// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

import "fmt"

// This file contains types defined in section 6 (Contants) in
// part 2 of the library spec.

// AlgorithmId corresponds to the TPM_ALG_ID type.
type AlgorithmId uint16

const (
	AlgorithmError    AlgorithmId = 0x0000 // TPM_ALG_ERROR
	AlgorithmSHA1     AlgorithmId = 0x0004 // TPM_ALG_SHA1
	AlgorithmAES      AlgorithmId = 0x0006 // TPM_ALG_AES
	AlgorithmXOR      AlgorithmId = 0x000a // TPM_ALG_XOR
	AlgorithmSHA256   AlgorithmId = 0x000b // TPM_ALG_SHA256
	AlgorithmSHA384   AlgorithmId = 0x000c // TPM_ALG_SHA384
	AlgorithmSHA512   AlgorithmId = 0x000d // TPM_ALG_SHA512
	AlgorithmNull     AlgorithmId = 0x0010 // TPM_ALG_NULL
	AlgorithmSM3_256  AlgorithmId = 0x0012 // TPM_ALG_SM3_256
	AlgorithmSM4      AlgorithmId = 0x0013 // TPM_ALG_SM4
	AlgorithmCamellia AlgorithmId = 0x0026 // TPM_ALG_CAMELLIA
	AlgorithmSHA3_256 AlgorithmId = 0x0027 // TPM_ALG_SHA3_256
	AlgorithmSHA3_384 AlgorithmId = 0x0028 // TPM_ALG_SHA3_384
	AlgorithmSHA3_512 AlgorithmId = 0x0029 // TPM_ALG_SHA3_512
	AlgorithmCTR      AlgorithmId = 0x0040 // TPM_ALG_CTR
	AlgorithmOFB      AlgorithmId = 0x0041 // TPM_ALG_OFB
	AlgorithmCBC      AlgorithmId = 0x0042 // TPM_ALG_CBC
	AlgorithmCFB      AlgorithmId = 0x0043 // TPM_ALG_CFB
	AlgorithmECB      AlgorithmId = 0x0044 // TPM_ALG_ECB
)

// CommandCode corresponds to the TPM_CC type.
type CommandCode uint32

const (
	CommandFlushContext     CommandCode = 0x00000165 // TPM_CC_FlushContext
	CommandStartAuthSession CommandCode = 0x00000176 // TPM_CC_StartAuthSession
	CommandGetCapability    CommandCode = 0x0000017a // TPM_CC_GetCapability
	CommandPolicyRestart    CommandCode = 0x00000180 // TPM_CC_PolicyRestart
)

func (c CommandCode) String() string {
	switch c {
	case CommandFlushContext:
		return "TPM_CC_FlushContext"
	case CommandStartAuthSession:
		return "TPM_CC_StartAuthSession"
	case CommandGetCapability:
		return "TPM_CC_GetCapability"
	case CommandPolicyRestart:
		return "TPM_CC_PolicyRestart"
	default:
		return fmt.Sprintf("0x%08x", uint32(c))
	}
}

// ResponseCode corresponds to the TPM_RC type.
type ResponseCode uint32

const (
	ResponseSuccess ResponseCode = 0x000 // TPM_RC_SUCCESS
	ResponseBadTag  ResponseCode = 0x01e // TPM_RC_BAD_TAG

	// ResponseFailure corresponds to TPM_RC_FAILURE, which the TPM returns when it is in
	// failure mode.
	ResponseFailure ResponseCode = 0x101
)

// StructTag corresponds to the TPM_ST type.
type StructTag uint16

const (
	TagRspCommand StructTag = 0x00c4 // TPM_ST_RSP_COMMAND
	TagNoSessions StructTag = 0x8001 // TPM_ST_NO_SESSIONS
	TagSessions   StructTag = 0x8002 // TPM_ST_SESSIONS
)

func (t StructTag) String() string {
	switch t {
	case TagRspCommand:
		return "TPM_ST_RSP_COMMAND"
	case TagNoSessions:
		return "TPM_ST_NO_SESSIONS"
	case TagSessions:
		return "TPM_ST_SESSIONS"
	default:
		return fmt.Sprintf("%d", uint16(t))
	}
}

// SessionType corresponds to the TPM_SE type.
type SessionType uint8

const (
	SessionTypeHMAC   SessionType = 0x00 // TPM_SE_HMAC
	SessionTypePolicy SessionType = 0x01 // TPM_SE_POLICY
	SessionTypeTrial  SessionType = 0x03 // TPM_SE_TRIAL
)

// IsValid determines whether the value of this session type is one that
// the TPM will accept.
func (t SessionType) IsValid() bool {
	switch t {
	case SessionTypeHMAC, SessionTypePolicy, SessionTypeTrial:
		return true
	default:
		return false
	}
}

func (t SessionType) String() string {
	switch t {
	case SessionTypeHMAC:
		return "TPM_SE_HMAC"
	case SessionTypePolicy:
		return "TPM_SE_POLICY"
	case SessionTypeTrial:
		return "TPM_SE_TRIAL"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}
