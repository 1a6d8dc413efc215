// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2session_test

import (
	"github.com/hashicorp/go-multierror"

	. "gopkg.in/check.v1"

	. "github.com/canonical/go-tpm2session"
	internal_testutil "github.com/canonical/go-tpm2session/internal/testutil"
	"github.com/canonical/go-tpm2session/testutil"
	"github.com/canonical/go-tpm2session/tpm2"
)

type sessionSuite struct{}

var _ = Suite(&sessionSuite{})

func (s *sessionSuite) TestStartDefaults(c *C) {
	for _, sessionType := range []tpm2.SessionType{tpm2.SessionTypeHMAC, tpm2.SessionTypePolicy, tpm2.SessionTypeTrial} {
		tpm := &mockStarter{handle: 0xBADC0DE, nonceTPM: tpm2.Nonce("0123456789abcdef")}

		session, err := Start(tpm, NewParameters(sessionType))
		c.Assert(err, IsNil, Commentf("%v", sessionType))
		c.Assert(session, NotNil)

		tpm.checkStart(c, startRequest{
			TPMKey:      tpm2.HandleNull,
			Bind:        tpm2.HandleNull,
			NonceCaller: make(tpm2.Nonce, 32),
			SessionType: sessionType,
			Symmetric:   tpm2.SymDef{Algorithm: tpm2.SymAlgorithmNull},
			AuthHash:    tpm2.HashAlgorithmSHA256})

		c.Check(session.Handle(), Equals, tpm2.Handle(0xBADC0DE))
		c.Check(session.AuthHash(), Equals, tpm2.HashAlgorithmSHA256)
		c.Check(session.Type(), Equals, sessionType)
		c.Check(session.Bind(), Equals, tpm2.HandleNull)
		c.Check(session.Key(), Equals, tpm2.HandleNull)
		c.Check(session.IsBound(), internal_testutil.IsFalse)
		c.Check(session.IsSalted(), internal_testutil.IsFalse)
		c.Check(session.Symmetric().IsNull(), internal_testutil.IsTrue)
		c.Check(session.NonceCaller(), DeepEquals, make(tpm2.Nonce, 32))
		c.Check(session.NonceTPM(), DeepEquals, tpm2.Nonce("0123456789abcdef"))
		c.Check(session.IsOpen(), internal_testutil.IsTrue)
		c.Check(session.Check(), IsNil)
	}
}

func (s *sessionSuite) TestStartWithOverrides(c *C) {
	tpm := &mockStarter{handle: 0x03000000, nonceTPM: make(tpm2.Nonce, 64)}

	params := NewParameters(tpm2.SessionTypeTrial)
	params.SetAuthHash(tpm2.HashAlgorithmSHA512)
	params.SetSymmetric(&tpm2.SymDef{Algorithm: tpm2.SymAlgorithmAES, KeyBits: 256, Mode: 42})
	c.Check(params.SetEncryptedSalt([]byte("SECRET")), IsNil)
	params.SetBind(42)
	params.SetKey(0x1234)
	c.Check(params.SetNonceCaller([]byte("nonce")), IsNil)

	session, err := Start(tpm, params)
	c.Assert(err, IsNil)

	tpm.checkStart(c, startRequest{
		TPMKey:        0x1234,
		Bind:          42,
		NonceCaller:   tpm2.Nonce("nonce"),
		EncryptedSalt: tpm2.EncryptedSecret("SECRET"),
		SessionType:   tpm2.SessionTypeTrial,
		Symmetric:     tpm2.SymDef{Algorithm: tpm2.SymAlgorithmAES, KeyBits: 256, Mode: 42},
		AuthHash:      tpm2.HashAlgorithmSHA512})

	c.Check(session.Handle(), Equals, tpm2.Handle(0x03000000))
	c.Check(session.AuthHash(), Equals, tpm2.HashAlgorithmSHA512)
	c.Check(session.Type(), Equals, tpm2.SessionTypeTrial)
	c.Check(session.Bind(), Equals, tpm2.Handle(42))
	c.Check(session.Key(), Equals, tpm2.Handle(0x1234))
	// Only HMAC sessions are bound.
	c.Check(session.IsBound(), internal_testutil.IsFalse)
	c.Check(session.IsSalted(), internal_testutil.IsTrue)
	c.Check(session.Symmetric(), DeepEquals, &tpm2.SymDef{Algorithm: tpm2.SymAlgorithmAES, KeyBits: 256, Mode: 42})
	c.Check(session.NonceCaller(), DeepEquals, tpm2.Nonce("nonce"))
}

func (s *sessionSuite) TestStartBoundHMAC(c *C) {
	tpm := &mockStarter{handle: 0x02000001}

	params := NewParameters(tpm2.SessionTypeHMAC)
	params.SetBind(0x81000001)

	session, err := Start(tpm, params)
	c.Assert(err, IsNil)
	c.Check(session.IsBound(), internal_testutil.IsTrue)
	c.Check(session.IsSalted(), internal_testutil.IsFalse)
}

func (s *sessionSuite) TestStartFailure(c *C) {
	tpm := &mockStarter{startErr: &tpm2.TPMError{Command: tpm2.CommandStartAuthSession, Code: tpm2.ErrorValue}}

	params := NewParameters(tpm2.SessionTypePolicy)
	session, err := Start(tpm, params)
	c.Check(session, IsNil)
	c.Check(err, ErrorMatches, `cannot start TPM_SE_POLICY session: TPM returned an error whilst executing command TPM_CC_StartAuthSession: TPM_RC_VALUE \(value is out of range or is not correct for the context\)`)

	var startErr *StartError
	c.Check(err, internal_testutil.ErrorAs, &startErr)
	c.Check(startErr.Type, Equals, tpm2.SessionTypePolicy)
	c.Check(tpm2.IsTPMError(err, tpm2.ErrorValue, tpm2.CommandStartAuthSession), internal_testutil.IsTrue)

	c.Check(tpm.starts, HasLen, 1)
	c.Check(tpm.flushes, HasLen, 0)

	// The parameters are untouched and can be used again.
	c.Check(params.AuthHash(), Equals, tpm2.HashAlgorithmSHA256)
	c.Check(params.NonceCaller(), DeepEquals, make(tpm2.Nonce, 32))
}

func (s *sessionSuite) TestStartNoParameters(c *C) {
	tpm := new(mockStarter)
	_, err := Start(tpm, nil)
	c.Check(err, ErrorMatches, `no parameters supplied`)
	c.Check(tpm.starts, HasLen, 0)
}

func (s *sessionSuite) TestStartNoTPM(c *C) {
	session, err := Start(nil, NewParameters(tpm2.SessionTypeHMAC))
	c.Check(err, ErrorMatches, `no TPM supplied`)
	c.Check(session, IsNil)
}

func (s *sessionSuite) TestStartDoesNotRetainParameters(c *C) {
	tpm := &mockStarter{handle: 0x03000000}

	params := NewParameters(tpm2.SessionTypePolicy)
	c.Check(params.SetNonceCaller([]byte("0123456789abcdef")), IsNil)

	session, err := Start(tpm, params)
	c.Assert(err, IsNil)

	c.Check(params.SetNonceCaller([]byte("fedcba9876543210")), IsNil)
	params.SetAuthHash(tpm2.HashAlgorithmSHA1)

	c.Check(session.NonceCaller(), DeepEquals, tpm2.Nonce("0123456789abcdef"))
	c.Check(session.AuthHash(), Equals, tpm2.HashAlgorithmSHA256)
}

// checkClosed verifies that every accessor of a closed session returns a null value.
func checkClosed(c *C, session *Session) {
	c.Check(session.IsOpen(), internal_testutil.IsFalse)
	c.Check(session.Check(), Equals, ErrSessionClosed)
	c.Check(session.Handle(), Equals, tpm2.HandleNull)
	c.Check(session.AuthHash(), Equals, tpm2.HashAlgorithmNull)
	c.Check(session.Type(), Equals, tpm2.SessionType(0))
	c.Check(session.Key(), Equals, tpm2.HandleNull)
	c.Check(session.Bind(), Equals, tpm2.HandleNull)
	c.Check(session.IsBound(), internal_testutil.IsFalse)
	c.Check(session.IsSalted(), internal_testutil.IsFalse)
	c.Check(session.Symmetric(), DeepEquals, &tpm2.SymDef{Algorithm: tpm2.SymAlgorithmNull})
	c.Check(session.NonceCaller(), IsNil)
	c.Check(session.NonceTPM(), IsNil)
}

func (s *sessionSuite) TestClose(c *C) {
	tpm := &mockStarter{handle: 0x02000000, nonceTPM: tpm2.Nonce("0123456789abcdef")}

	params := NewParameters(tpm2.SessionTypeHMAC)
	params.SetBind(0x81000001)
	params.SetKey(0x81000002)
	params.SetSymmetric(&tpm2.SymDef{Algorithm: tpm2.SymAlgorithmAES, KeyBits: 128, Mode: tpm2.SymModeCFB})

	session, err := Start(tpm, params)
	c.Assert(err, IsNil)
	c.Check(session.IsBound(), internal_testutil.IsTrue)
	c.Check(session.IsSalted(), internal_testutil.IsTrue)

	c.Check(session.Close(), IsNil)
	c.Check(tpm.flushes, DeepEquals, tpm2.HandleList{0x02000000})
	checkClosed(c, session)

	c.Check(session.Close(), Equals, ErrSessionClosed)
	c.Check(tpm.flushes, HasLen, 1)
}

func (s *sessionSuite) TestCloseFlushError(c *C) {
	tpm := &mockStarter{handle: 0x03000000, flushErr: errMock}

	params := NewParameters(tpm2.SessionTypeHMAC)
	params.SetBind(0x81000001)
	params.SetKey(0x81000002)
	session, err := Start(tpm, params)
	c.Assert(err, IsNil)

	err = session.Close()
	c.Check(err, ErrorMatches, `cannot flush session 0x03000000: mock error`)
	c.Check(err, internal_testutil.ErrorIs, errMock)
	checkClosed(c, session)
}

func (s *sessionSuite) TestNilSession(c *C) {
	var session *Session
	checkClosed(c, session)
	c.Check(session.Close(), Equals, ErrSessionClosed)
}

func (s *sessionSuite) TestWith(c *C) {
	tpm := &mockStarter{handle: 0x03000000}

	var handle tpm2.Handle
	err := With(tpm, NewParameters(tpm2.SessionTypePolicy), func(session *Session) error {
		handle = session.Handle()
		return nil
	})
	c.Check(err, IsNil)
	c.Check(handle, Equals, tpm2.Handle(0x03000000))
	c.Check(tpm.flushes, DeepEquals, tpm2.HandleList{0x03000000})
}

func (s *sessionSuite) TestWithStartError(c *C) {
	tpm := &mockStarter{startErr: errMock}

	called := false
	err := With(tpm, NewParameters(tpm2.SessionTypePolicy), func(*Session) error {
		called = true
		return nil
	})
	c.Check(err, internal_testutil.ErrorIs, errMock)
	c.Check(called, internal_testutil.IsFalse)
	c.Check(tpm.flushes, HasLen, 0)
}

func (s *sessionSuite) TestWithCallbackClosesSession(c *C) {
	tpm := &mockStarter{handle: 0x03000000}

	err := With(tpm, NewParameters(tpm2.SessionTypePolicy), func(session *Session) error {
		return session.Close()
	})
	c.Check(err, IsNil)
	c.Check(tpm.flushes, HasLen, 1)
}

func (s *sessionSuite) TestWithCombinesErrors(c *C) {
	flushErr := &tpm2.TPMHandleError{TPMError: &tpm2.TPMError{Command: tpm2.CommandFlushContext, Code: tpm2.ErrorHandle}, Index: 1}
	tpm := &mockStarter{handle: 0x03000000, flushErr: flushErr}

	err := With(tpm, NewParameters(tpm2.SessionTypePolicy), func(*Session) error {
		return errMock
	})
	c.Assert(err, NotNil)

	var merr *multierror.Error
	c.Assert(err, internal_testutil.ErrorAs, &merr)
	c.Check(merr.Errors, HasLen, 2)
	c.Check(merr.Errors[0], Equals, errMock)
	c.Check(merr.Errors[1], internal_testutil.ErrorIs, flushErr)
	c.Check(tpm.flushes, HasLen, 1)
}

func (s *sessionSuite) TestWithPanic(c *C) {
	tpm := &mockStarter{handle: 0x03000000}

	c.Check(func() {
		With(tpm, NewParameters(tpm2.SessionTypePolicy), func(*Session) error {
			panic("callback panic")
		})
	}, PanicMatches, `callback panic`)
	c.Check(tpm.flushes, DeepEquals, tpm2.HandleList{0x03000000})
}

type sessionTPMSuite struct {
	mock *testutil.MockTPM
	tpm  *tpm2.TPMContext
}

func (s *sessionTPMSuite) SetUpTest(c *C) {
	s.mock = testutil.NewMockTPM()
	s.tpm = tpm2.NewTPMContext(s.mock)
}

var _ = Suite(&sessionTPMSuite{})

func (s *sessionTPMSuite) TestStartAndClose(c *C) {
	s.mock.QueueResponse(testutil.StartAuthSessionResponse(0xBADC0DE, make(tpm2.Nonce, 32)))
	s.mock.QueueResponse(testutil.SuccessResponse())

	session, err := Start(s.tpm, NewParameters(tpm2.SessionTypePolicy))
	c.Assert(err, IsNil)
	c.Check(session.Handle(), Equals, tpm2.Handle(0xBADC0DE))
	c.Check(session.AuthHash(), Equals, tpm2.HashAlgorithmSHA256)
	c.Check(s.mock.LiveSessions(), DeepEquals, tpm2.HandleList{0xBADC0DE})

	c.Assert(s.mock.Commands(), HasLen, 1)
	c.Check(s.mock.Commands()[0].Packet, DeepEquals, tpm2.CommandPacket(internal_testutil.DecodeHexString(c,
		"80010000003b0000017640000007400000070020"+"0000000000000000000000000000000000000000000000000000000000000000"+"0000"+"01"+"0010"+"000b")))

	c.Check(session.Close(), IsNil)
	c.Check(s.mock.LiveSessions(), HasLen, 0)
	c.Check(s.mock.PendingResponses(), Equals, 0)

	c.Assert(s.mock.Commands(), HasLen, 2)
	c.Check(s.mock.Commands()[1].Packet, DeepEquals, tpm2.CommandPacket(internal_testutil.DecodeHexString(c, "80010000000e000001650badc0de")))
}

func (s *sessionTPMSuite) TestStartRetryIsNotResubmitted(c *C) {
	s.mock.QueueResponse(testutil.ErrorResponse(0x922))

	session, err := Start(s.tpm, NewParameters(tpm2.SessionTypeHMAC))
	c.Check(session, IsNil)
	c.Check(tpm2.IsTPMWarning(err, tpm2.WarningRetry, tpm2.CommandStartAuthSession), internal_testutil.IsTrue)
	c.Check(s.mock.Commands(), HasLen, 1)
	c.Check(s.mock.LiveSessions(), HasLen, 0)
}

func (s *sessionTPMSuite) TestStartTPMError(c *C) {
	s.mock.QueueResponse(testutil.ErrorResponse(0x1c4))

	session, err := Start(s.tpm, NewParameters(tpm2.SessionTypePolicy))
	c.Check(session, IsNil)

	var e *tpm2.TPMParameterError
	c.Check(err, internal_testutil.ErrorAs, &e)
	c.Check(e.Index, Equals, 1)
	c.Check(e.Code, Equals, tpm2.ErrorValue)
}

func (s *sessionTPMSuite) TestWithFlushesSession(c *C) {
	s.mock.QueueResponse(testutil.StartAuthSessionResponse(0x03000001, make(tpm2.Nonce, 32)))
	s.mock.QueueResponse(testutil.SuccessResponse())

	err := With(s.tpm, NewParameters(tpm2.SessionTypeHMAC), func(session *Session) error {
		c.Check(s.mock.LiveSessions(), DeepEquals, tpm2.HandleList{session.Handle()})
		return nil
	})
	c.Check(err, IsNil)
	c.Check(s.mock.LiveSessions(), HasLen, 0)
}
