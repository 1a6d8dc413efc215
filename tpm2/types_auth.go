// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

// SessionAttributes corresponds to the TPMA_SESSION type, and represents the attributes for a session
// in the authorization area of a command or response.
type SessionAttributes uint8

const (
	AttrContinueSession SessionAttributes = 1 << 0 // continueSession
	AttrAuditExclusive  SessionAttributes = 1 << 1 // auditExclusive
	AttrAuditReset      SessionAttributes = 1 << 2 // auditReset
	AttrCommandEncrypt  SessionAttributes = 1 << 5 // decrypt
	AttrResponseEncrypt SessionAttributes = 1 << 6 // encrypt
	AttrAudit           SessionAttributes = 1 << 7 // audit
)

// AuthCommand corresponds to the TPMS_AUTH_COMMAND type, and represents an authorization for a
// command.
type AuthCommand struct {
	SessionHandle     Handle
	Nonce             Nonce
	SessionAttributes SessionAttributes
	HMAC              Auth
}

// AuthResponse corresponds to the TPMS_AUTH_RESPONSE type, and represents an authorization
// response for a command.
type AuthResponse struct {
	Nonce             Nonce
	SessionAttributes SessionAttributes
	HMAC              Auth
}

// maxAuthSessions is the number of sessions permitted in a single authorization area.
const maxAuthSessions = 3
