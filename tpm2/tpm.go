// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/canonical/go-tpm2session/mu"

	"golang.org/x/xerrors"
)

// Transport represents a communication channel to a TPM implementation. A command packet is
// sent in a single call to Write, and the complete response can be obtained with one or more
// calls to Read.
type Transport interface {
	io.ReadWriteCloser
}

// TPMContext is the main entry point by which commands are executed on a TPM device using this
// package. It communicates with the underlying device via a Transport provided to NewTPMContext.
//
// Methods that execute commands on the TPM will return errors where the TPM responds with them.
// These are in the form of *TPMError, *TPMWarning, *TPMHandleError, *TPMSessionError,
// *TPMParameterError and *TPMVendorError types.
//
// A TPMContext is not safe for concurrent use.
type TPMContext struct {
	transport      Transport
	maxSubmissions uint
}

// Close calls Close on the transport.
func (t *TPMContext) Close() error {
	if err := t.transport.Close(); err != nil {
		return &TransportError{"close", err}
	}

	return nil
}

// Transport returns the underlying transport.
func (t *TPMContext) Transport() Transport {
	return t.transport
}

// SetMaxSubmissions sets the maximum number of times that RunCommand will attempt to submit a
// command before failing with an error. The default value is 5. A value of zero is treated as 1.
func (t *TPMContext) SetMaxSubmissions(max uint) {
	t.maxSubmissions = max
}

// RunCommandBytes is a low-level interface for executing a command. The caller is responsible for
// supplying a properly serialized command packet, which can be created with MarshalCommandPacket.
//
// If successful, this function will return the response packet. No checking is performed on the
// response except for the header size field. A *TransportError will be returned if the transport
// returns an error.
func (t *TPMContext) RunCommandBytes(packet CommandPacket) (ResponsePacket, error) {
	commandCode, err := packet.GetCommandCode()
	if err != nil {
		return nil, xerrors.Errorf("cannot determine command code: %w", err)
	}

	if _, err := t.transport.Write(packet); err != nil {
		return nil, &TransportError{"write", err}
	}

	var header ResponseHeader
	headerSize := uint32(binary.Size(header))
	resp := make([]byte, headerSize)
	if n, err := io.ReadFull(t.transport, resp); err != nil {
		if xerrors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &InvalidResponseError{commandCode, fmt.Sprintf("insufficient bytes for response header (got %d, expected %d)", n, headerSize)}
		}
		return nil, &TransportError{"read", err}
	}

	if _, err := mu.UnmarshalFromBytes(resp, &header); err != nil {
		panic(fmt.Sprintf("cannot unmarshal response header: %v", err))
	}

	if header.ResponseSize < headerSize || header.ResponseSize > uint32(maxResponseSize) {
		return nil, &InvalidResponseError{commandCode, fmt.Sprintf("invalid responseSize value (%d)", header.ResponseSize)}
	}

	payload := make([]byte, header.ResponseSize-headerSize)
	if n, err := io.ReadFull(t.transport, payload); err != nil {
		if xerrors.Is(err, io.ErrUnexpectedEOF) || (xerrors.Is(err, io.EOF) && len(payload) > 0) {
			return nil, &InvalidResponseError{commandCode, fmt.Sprintf("insufficient bytes for response payload (got %d, expected %d)", n, len(payload))}
		}
		return nil, &TransportError{"read", err}
	}

	return ResponsePacket(append(resp, payload...)), nil
}

// canResubmit indicates whether the command can be submitted more than once. A session start is
// never resubmitted so that a caller nonce or salt is only presented to the TPM once per call.
func canResubmit(commandCode CommandCode) bool {
	return commandCode != CommandStartAuthSession
}

// RunCommand is a low-level interface for executing a command. The caller supplies the command
// code, list of command handles, command auth area and marshalled command parameters. The caller
// should also supply a pointer to a response handle if the command returns one. On success, the
// response parameter bytes and response auth area are returned. This function does no checking
// of the auth response.
//
// A *TransportError will be returned if the transport returns an error.
//
// One of *TPMWarning, *TPMError, *TPMParameterError, *TPMHandleError or *TPMSessionError will be
// returned if the TPM returns a response code other than ResponseSuccess.
//
// If the TPM responds with TPM_RC_YIELDED, TPM_RC_TESTING or TPM_RC_RETRY, the command is
// resubmitted up to the limit set by SetMaxSubmissions. TPM2_StartAuthSession is always
// submitted exactly once.
func (t *TPMContext) RunCommand(commandCode CommandCode, handles HandleList, authArea []AuthCommand, parameters []byte, responseHandle *Handle) (rpBytes []byte, rAuthArea []AuthResponse, err error) {
	cmd := MarshalCommandPacket(commandCode, handles, authArea, parameters)

	for tries := uint(1); ; tries++ {
		var resp ResponsePacket
		resp, err = t.RunCommandBytes(cmd)
		if err != nil {
			return nil, nil, err
		}

		var rc ResponseCode
		rc, rpBytes, rAuthArea, err = resp.Unmarshal(responseHandle)
		if err != nil {
			return nil, nil, &InvalidResponseError{commandCode, fmt.Sprintf("cannot unmarshal response packet: %v", err)}
		}

		err = DecodeResponseCode(commandCode, rc)
		if err == nil {
			break
		}

		if !canResubmit(commandCode) || tries >= t.maxSubmissions || !isResubmittable(err) {
			return nil, nil, err
		}
	}

	return rpBytes, rAuthArea, nil
}

// completeResponse unmarshals the response parameters in to the supplied pointers, returning an
// *InvalidResponseError if they are malformed or have trailing bytes.
func completeResponse(commandCode CommandCode, rpBytes []byte, responseParams ...interface{}) error {
	buf := bytes.NewReader(rpBytes)

	if _, err := mu.UnmarshalFromReader(buf, responseParams...); err != nil {
		return &InvalidResponseError{commandCode, fmt.Sprintf("cannot unmarshal response parameters: %v", err)}
	}

	if buf.Len() > 0 {
		return &InvalidResponseError{commandCode, fmt.Sprintf("response parameter area contains %d trailing bytes", buf.Len())}
	}

	return nil
}

// NewTPMContext creates a new instance of TPMContext, which communicates with the TPM using the
// supplied transport. See the linux and mssim packages for transports.
func NewTPMContext(transport Transport) *TPMContext {
	return &TPMContext{
		transport:      transport,
		maxSubmissions: 5}
}
