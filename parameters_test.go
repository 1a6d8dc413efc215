// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2session_test

import (
	"bytes"

	. "gopkg.in/check.v1"

	. "github.com/canonical/go-tpm2session"
	internal_testutil "github.com/canonical/go-tpm2session/internal/testutil"
	"github.com/canonical/go-tpm2session/tpm2"
)

type parametersSuite struct{}

var _ = Suite(&parametersSuite{})

func (s *parametersSuite) TestDefaults(c *C) {
	params := NewParameters(tpm2.SessionTypeHMAC)
	c.Check(params.SessionType(), Equals, tpm2.SessionTypeHMAC)
	c.Check(params.Key(), Equals, tpm2.HandleNull)
	c.Check(params.Bind(), Equals, tpm2.HandleNull)
	c.Check(params.EncryptedSalt(), HasLen, 0)
	c.Check(params.Symmetric(), DeepEquals, &tpm2.SymDef{Algorithm: tpm2.SymAlgorithmNull})
	c.Check(params.AuthHash(), Equals, tpm2.HashAlgorithmSHA256)
	c.Check(params.NonceCaller(), DeepEquals, make(tpm2.Nonce, 32))
}

func (s *parametersSuite) TestSettersReplaceOneField(c *C) {
	params := NewParameters(tpm2.SessionTypePolicy)

	params.SetAuthHash(tpm2.HashAlgorithmSHA384)
	c.Check(params.AuthHash(), Equals, tpm2.HashAlgorithmSHA384)
	c.Check(params.NonceCaller(), DeepEquals, make(tpm2.Nonce, 32))

	params.SetKey(0x81000001)
	c.Check(params.Key(), Equals, tpm2.Handle(0x81000001))
	c.Check(params.Bind(), Equals, tpm2.HandleNull)

	params.SetBind(0x40000001)
	c.Check(params.Bind(), Equals, tpm2.Handle(0x40000001))
	c.Check(params.Key(), Equals, tpm2.Handle(0x81000001))

	params.SetSymmetric(&tpm2.SymDef{Algorithm: tpm2.SymAlgorithmAES, KeyBits: 128, Mode: tpm2.SymModeCFB})
	c.Check(params.Symmetric(), DeepEquals, &tpm2.SymDef{Algorithm: tpm2.SymAlgorithmAES, KeyBits: 128, Mode: tpm2.SymModeCFB})

	params.SetSymmetric(nil)
	c.Check(params.Symmetric().IsNull(), internal_testutil.IsTrue)
	c.Check(params.SessionType(), Equals, tpm2.SessionTypePolicy)
}

func (s *parametersSuite) TestSymmetricIsCopied(c *C) {
	sym := &tpm2.SymDef{Algorithm: tpm2.SymAlgorithmAES, KeyBits: 128, Mode: tpm2.SymModeCFB}
	params := NewParameters(tpm2.SessionTypeHMAC)
	params.SetSymmetric(sym)

	sym.KeyBits = 256
	params.Symmetric().KeyBits = 192
	c.Check(params.Symmetric().KeyBits, Equals, uint16(128))
}

func (s *parametersSuite) TestSetEncryptedSalt(c *C) {
	salt := []byte("SECRET")
	params := NewParameters(tpm2.SessionTypeHMAC)
	c.Check(params.SetEncryptedSalt(salt), IsNil)

	salt[0] = 'X'
	c.Check(params.EncryptedSalt(), DeepEquals, tpm2.EncryptedSecret("SECRET"))

	params.EncryptedSalt()[0] = 'Y'
	c.Check(params.EncryptedSalt(), DeepEquals, tpm2.EncryptedSecret("SECRET"))
}

func (s *parametersSuite) TestSetEncryptedSaltMaxSize(c *C) {
	params := NewParameters(tpm2.SessionTypeHMAC)
	c.Check(params.SetEncryptedSalt(make([]byte, MaxEncryptedSaltSize)), IsNil)
	c.Check(params.EncryptedSalt(), HasLen, 512)
}

func (s *parametersSuite) TestSetEncryptedSaltTooLarge(c *C) {
	params := NewParameters(tpm2.SessionTypeHMAC)
	c.Check(params.SetEncryptedSalt([]byte("SECRET")), IsNil)

	err := params.SetEncryptedSalt(make([]byte, 513))
	c.Check(err, ErrorMatches, `encrypted salt is too large \(513 bytes, maximum 512\)`)

	var e *ParameterSizeError
	c.Check(err, internal_testutil.ErrorAs, &e)
	c.Check(e, DeepEquals, &ParameterSizeError{Field: "encrypted salt", Size: 513, Max: 512})

	c.Check(params.EncryptedSalt(), DeepEquals, tpm2.EncryptedSecret("SECRET"))
}

func (s *parametersSuite) TestSetNonceCaller(c *C) {
	nonce := []byte("nonce")
	params := NewParameters(tpm2.SessionTypeHMAC)
	c.Check(params.SetNonceCaller(nonce), IsNil)

	nonce[0] = 'X'
	c.Check(params.NonceCaller(), DeepEquals, tpm2.Nonce("nonce"))
}

func (s *parametersSuite) TestSetNonceCallerTooLarge(c *C) {
	params := NewParameters(tpm2.SessionTypeHMAC)
	c.Check(params.SetNonceCaller(make([]byte, 64)), IsNil)

	err := params.SetNonceCaller(make([]byte, 65))
	c.Check(err, ErrorMatches, `caller nonce is too large \(65 bytes, maximum 64\)`)
	c.Check(params.NonceCaller(), DeepEquals, make(tpm2.Nonce, 64))
}

func (s *parametersSuite) TestRandomizeNonceCaller(c *C) {
	params := NewParameters(tpm2.SessionTypeHMAC)
	params.SetAuthHash(tpm2.HashAlgorithmSHA1)

	src := bytes.NewReader(bytes.Repeat([]byte{0xa5}, 64))
	c.Check(params.RandomizeNonceCaller(src), IsNil)
	c.Check(params.NonceCaller(), DeepEquals, tpm2.Nonce(bytes.Repeat([]byte{0xa5}, 20)))
	c.Check(src.Len(), Equals, 44)
}

func (s *parametersSuite) TestRandomizeNonceCallerDefaultSource(c *C) {
	params := NewParameters(tpm2.SessionTypeHMAC)
	params.SetAuthHash(tpm2.HashAlgorithmSHA512)

	c.Check(params.RandomizeNonceCaller(nil), IsNil)
	c.Check(params.NonceCaller(), HasLen, 64)
	c.Check(params.NonceCaller(), Not(DeepEquals), make(tpm2.Nonce, 64))
}

func (s *parametersSuite) TestRandomizeNonceCallerShortRead(c *C) {
	params := NewParameters(tpm2.SessionTypeHMAC)
	c.Check(params.RandomizeNonceCaller(bytes.NewReader(make([]byte, 10))), ErrorMatches, `cannot read nonce: unexpected EOF`)
	c.Check(params.NonceCaller(), DeepEquals, make(tpm2.Nonce, 32))
}

func (s *parametersSuite) TestRandomizeNonceCallerInvalidHash(c *C) {
	params := NewParameters(tpm2.SessionTypeHMAC)
	params.SetAuthHash(tpm2.HashAlgorithmNull)
	c.Check(params.RandomizeNonceCaller(nil), ErrorMatches, `cannot determine nonce size: unsupported auth hash .*`)
}

func (s *parametersSuite) TestDefaultNonceSizedByDefaultAuthHash(c *C) {
	params := NewParameters(tpm2.SessionTypePolicy)
	c.Check(params.NonceCaller(), HasLen, DefaultAuthHash.Size())
	c.Check(params.NonceCaller(), Not(HasLen), tpm2.HashAlgorithmSHA1.Size())

	params.SetAuthHash(tpm2.HashAlgorithmSHA1)
	c.Check(params.NonceCaller(), HasLen, 32)
}
