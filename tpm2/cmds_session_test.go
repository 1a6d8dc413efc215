// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2_test

import (
	. "gopkg.in/check.v1"

	internal_testutil "github.com/canonical/go-tpm2session/internal/testutil"
	"github.com/canonical/go-tpm2session/testutil"
	. "github.com/canonical/go-tpm2session/tpm2"
)

type sessionCommandsSuite struct {
	mock *testutil.MockTPM
	tpm  *TPMContext
}

func (s *sessionCommandsSuite) SetUpTest(c *C) {
	s.mock = testutil.NewMockTPM()
	s.tpm = NewTPMContext(s.mock)
}

var _ = Suite(&sessionCommandsSuite{})

func (s *sessionCommandsSuite) TestStartAuthSessionPacket(c *C) {
	nonceCaller := internal_testutil.DecodeHexString(c, "4355a46b19d348dc2f57c046f8ef63d4538ebb936000f3c9ee954a27460dd865")
	nonceTPM := internal_testutil.DecodeHexString(c, "b5ee9b8e2a4c0e1d6e9e8b2a1f1e6a3c7d9a4a1b0c2d3e4f5061728394a5b6c7")
	s.mock.QueueResponse(testutil.StartAuthSessionResponse(0x02000000, nonceTPM))

	handle, rNonceTPM, rAuthArea, err := s.tpm.StartAuthSession(HandleNull, 0x80000000, nonceCaller, nil, SessionTypeHMAC, nil, HashAlgorithmSHA256)
	c.Check(err, IsNil)
	c.Check(handle, Equals, Handle(0x02000000))
	c.Check(rNonceTPM, DeepEquals, Nonce(nonceTPM))
	c.Check(rAuthArea, HasLen, 0)

	c.Assert(s.mock.Commands(), HasLen, 1)
	cmd := s.mock.Commands()[0]
	c.Check(cmd.Packet, DeepEquals, CommandPacket(internal_testutil.DecodeHexString(c, "80010000003b00000176400000078000000000204355a46b19d348dc2f57c046f8ef63d4538ebb936000f3c9ee954a27460dd8650000000010000b")))
	c.Check(s.mock.LiveSessions(), DeepEquals, HandleList{0x02000000})
}

func (s *sessionCommandsSuite) TestStartAuthSessionAllParameters(c *C) {
	s.mock.QueueResponse(testutil.StartAuthSessionResponse(0x03000001, Nonce("tpm-nonce-0123456789")))

	sym := &SymDef{Algorithm: SymAlgorithmAES, KeyBits: 256, Mode: 42}
	handle, _, _, err := s.tpm.StartAuthSession(0x1234, 42, Nonce("nonce"), EncryptedSecret("SECRET"), SessionTypeTrial, sym, HashAlgorithmSHA512)
	c.Check(err, IsNil)
	c.Check(handle, Equals, Handle(0x03000001))

	c.Assert(s.mock.Commands(), HasLen, 1)
	cmd := s.mock.Commands()[0]
	c.Check(cmd.Code, Equals, CommandStartAuthSession)
	c.Check(cmd.Handles, DeepEquals, HandleList{0x1234, 42})
	c.Check(cmd.AuthArea, HasLen, 0)
	c.Check(cmd.Parameters, DeepEquals, internal_testutil.DecodeHexString(c, "00056e6f6e63650006534543524554"+"03"+"00060100002a"+"000d"))
}

func (s *sessionCommandsSuite) TestStartAuthSessionWithAuthArea(c *C) {
	handle := Handle(0x02000002)
	rAuth := []AuthResponse{{Nonce: Nonce{1, 2, 3, 4}, SessionAttributes: AttrAudit | AttrContinueSession, HMAC: Auth{5, 6, 7, 8}}}
	s.mock.QueueResponse(MarshalResponsePacket(ResponseSuccess, &handle, []byte{0x00, 0x02, 0xaa, 0xbb}, rAuth))

	auth := AuthCommand{SessionHandle: 0x02000001, Nonce: Nonce{9, 9, 9, 9}, SessionAttributes: AttrAudit | AttrContinueSession, HMAC: Auth{1}}
	h, nonceTPM, rAuthArea, err := s.tpm.StartAuthSession(HandleNull, HandleNull, make(Nonce, 32), nil, SessionTypePolicy, nil, HashAlgorithmSHA256, auth)
	c.Check(err, IsNil)
	c.Check(h, Equals, handle)
	c.Check(nonceTPM, DeepEquals, Nonce{0xaa, 0xbb})
	c.Check(rAuthArea, internal_testutil.CmpEquals, rAuth)

	c.Assert(s.mock.Commands(), HasLen, 1)
	c.Check(s.mock.Commands()[0].AuthArea, internal_testutil.CmpEquals, []AuthCommand{auth})
}

func (s *sessionCommandsSuite) TestStartAuthSessionError(c *C) {
	s.mock.QueueResponse(testutil.ErrorResponse(0x1c4))

	handle, nonceTPM, _, err := s.tpm.StartAuthSession(HandleNull, HandleNull, make(Nonce, 32), nil, SessionTypePolicy, nil, HashAlgorithmSHA256)
	c.Check(IsTPMParameterError(err, ErrorValue, CommandStartAuthSession, 1), internal_testutil.IsTrue)
	c.Check(handle, Equals, HandleNull)
	c.Check(nonceTPM, IsNil)
	c.Check(s.mock.LiveSessions(), HasLen, 0)
}

func (s *sessionCommandsSuite) TestStartAuthSessionIsNotResubmitted(c *C) {
	s.mock.QueueResponse(testutil.ErrorResponse(0x922))
	s.mock.QueueResponse(testutil.StartAuthSessionResponse(0x02000000, make(Nonce, 32)))

	_, _, _, err := s.tpm.StartAuthSession(HandleNull, HandleNull, make(Nonce, 32), nil, SessionTypeHMAC, nil, HashAlgorithmSHA256)
	c.Check(IsTPMWarning(err, WarningRetry, CommandStartAuthSession), internal_testutil.IsTrue)
	c.Check(s.mock.Commands(), HasLen, 1)
	c.Check(s.mock.PendingResponses(), Equals, 1)
}

func (s *sessionCommandsSuite) TestStartAuthSessionTrailingBytes(c *C) {
	handle := Handle(0x02000000)
	s.mock.QueueResponse(MarshalResponsePacket(ResponseSuccess, &handle, []byte{0x00, 0x01, 0xaa, 0xff}, nil))

	h, _, _, err := s.tpm.StartAuthSession(HandleNull, HandleNull, make(Nonce, 32), nil, SessionTypeHMAC, nil, HashAlgorithmSHA256)
	c.Check(err, ErrorMatches, "TPM returned an invalid response for command TPM_CC_StartAuthSession: "+
		"response parameter area contains 1 trailing bytes")
	c.Check(h, Equals, HandleNull)
}

func (s *sessionCommandsSuite) TestStartAuthSessionMissingNonce(c *C) {
	handle := Handle(0x02000000)
	s.mock.QueueResponse(MarshalResponsePacket(ResponseSuccess, &handle, nil, nil))

	_, _, _, err := s.tpm.StartAuthSession(HandleNull, HandleNull, make(Nonce, 32), nil, SessionTypeHMAC, nil, HashAlgorithmSHA256)
	var e *InvalidResponseError
	c.Check(err, internal_testutil.ErrorAs, &e)
}

func (s *sessionCommandsSuite) TestFlushContext(c *C) {
	s.mock.QueueResponse(testutil.StartAuthSessionResponse(0x02000000, make(Nonce, 32)))
	s.mock.QueueResponse(testutil.SuccessResponse())

	handle, _, _, err := s.tpm.StartAuthSession(HandleNull, HandleNull, make(Nonce, 32), nil, SessionTypeHMAC, nil, HashAlgorithmSHA256)
	c.Assert(err, IsNil)
	c.Check(s.tpm.FlushContext(handle), IsNil)

	c.Assert(s.mock.Commands(), HasLen, 2)
	cmd := s.mock.Commands()[1]
	c.Check(cmd.Packet, DeepEquals, CommandPacket(internal_testutil.DecodeHexString(c, "80010000000e0000016502000000")))
	c.Check(s.mock.LiveSessions(), HasLen, 0)
}

func (s *sessionCommandsSuite) TestFlushContextInvalidHandle(c *C) {
	s.mock.QueueResponse(testutil.ErrorResponse(0x1cb))

	err := s.tpm.FlushContext(0x02000005)
	c.Check(IsTPMParameterError(err, ErrorHandle, CommandFlushContext, 1), internal_testutil.IsTrue)
}
