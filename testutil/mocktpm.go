// Copyright 2021 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"golang.org/x/xerrors"

	"github.com/canonical/go-tpm2session/mu"
	"github.com/canonical/go-tpm2session/tpm2"
)

var (
	// ErrNoResponse is returned from MockTPM.Write when there are no more queued responses.
	ErrNoResponse = errors.New("no response queued")

	// ErrClosed is returned from MockTPM methods after it has been closed.
	ErrClosed = errors.New("transport already closed")
)

type commandInfo struct {
	cmdHandles int
	rspHandle  bool
}

var commandInfoMap = map[tpm2.CommandCode]commandInfo{
	tpm2.CommandFlushContext:     {0, false},
	tpm2.CommandStartAuthSession: {2, true},
}

// Command is a command received by a MockTPM.
type Command struct {
	Code       tpm2.CommandCode
	Handles    tpm2.HandleList
	AuthArea   []tpm2.AuthCommand
	Parameters []byte // Command parameters in the TPM wire format
	Packet     tpm2.CommandPacket
}

// MockTPM is a scripted tpm2.Transport. Each command written to it is decoded and recorded, and
// the next queued response is returned to the caller. It keeps track of sessions that are started
// and flushed, so that tests can check that nothing is leaked.
type MockTPM struct {
	responses []tpm2.ResponsePacket
	commands  []*Command
	current   *bytes.Reader

	writeErr error
	closed   bool

	sessions map[tpm2.Handle]struct{}
}

// NewMockTPM returns a new MockTPM with the supplied responses queued.
func NewMockTPM(responses ...tpm2.ResponsePacket) *MockTPM {
	return &MockTPM{
		responses: responses,
		sessions:  make(map[tpm2.Handle]struct{})}
}

// QueueResponse appends a response to be returned for a future command.
func (t *MockTPM) QueueResponse(rsp tpm2.ResponsePacket) {
	t.responses = append(t.responses, rsp)
}

// FailNextWrite makes the next call to Write fail with the supplied error.
func (t *MockTPM) FailNextWrite(err error) {
	t.writeErr = err
}

// Commands returns the commands received so far.
func (t *MockTPM) Commands() []*Command {
	return t.commands
}

// PendingResponses returns the number of queued responses that haven't been consumed.
func (t *MockTPM) PendingResponses() int {
	return len(t.responses)
}

// LiveSessions returns the handles of sessions that have been started and not flushed.
func (t *MockTPM) LiveSessions() (out tpm2.HandleList) {
	for h := range t.sessions {
		out = append(out, h)
	}
	return out
}

// Closed indicates whether Close has been called.
func (t *MockTPM) Closed() bool {
	return t.closed
}

func (t *MockTPM) trackResponse(cmd *Command, rsp tpm2.ResponsePacket) error {
	info := commandInfoMap[cmd.Code]

	var handle tpm2.Handle
	var pHandle *tpm2.Handle
	if info.rspHandle {
		pHandle = &handle
	}

	rc, _, _, err := rsp.Unmarshal(pHandle)
	if err != nil || rc != tpm2.ResponseSuccess {
		// The TPMContext will reject this one.
		return nil
	}

	switch cmd.Code {
	case tpm2.CommandStartAuthSession:
		t.sessions[handle] = struct{}{}
	case tpm2.CommandFlushContext:
		var flushed tpm2.Handle
		if _, err := mu.UnmarshalFromBytes(cmd.Parameters, &flushed); err != nil {
			return xerrors.Errorf("cannot unmarshal parameters: %w", err)
		}
		delete(t.sessions, flushed)
	}

	return nil
}

func (t *MockTPM) Write(data []byte) (int, error) {
	if t.closed {
		return 0, ErrClosed
	}
	if t.writeErr != nil {
		err := t.writeErr
		t.writeErr = nil
		return 0, err
	}

	pkt := tpm2.CommandPacket(append([]byte(nil), data...))

	code, err := pkt.GetCommandCode()
	if err != nil {
		return 0, xerrors.Errorf("cannot determine command code: %w", err)
	}

	info, ok := commandInfoMap[code]
	if !ok {
		return 0, fmt.Errorf("unsupported command %v", code)
	}

	handles, authArea, parameters, err := pkt.Unmarshal(info.cmdHandles)
	if err != nil {
		return 0, xerrors.Errorf("invalid command payload: %w", err)
	}

	cmd := &Command{
		Code:       code,
		Handles:    handles,
		AuthArea:   authArea,
		Parameters: parameters,
		Packet:     pkt}
	t.commands = append(t.commands, cmd)

	if len(t.responses) == 0 {
		return 0, ErrNoResponse
	}
	rsp := t.responses[0]
	t.responses = t.responses[1:]

	if err := t.trackResponse(cmd, rsp); err != nil {
		return 0, err
	}

	t.current = bytes.NewReader(rsp)
	return len(data), nil
}

func (t *MockTPM) Read(data []byte) (int, error) {
	if t.closed {
		return 0, ErrClosed
	}
	if t.current == nil {
		return 0, io.EOF
	}
	n, err := t.current.Read(data)
	if err == io.EOF {
		t.current = nil
	}
	return n, err
}

func (t *MockTPM) Close() error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	return nil
}

// StartAuthSessionResponse returns a successful TPM2_StartAuthSession response packet with the
// specified session handle and TPM nonce.
func StartAuthSessionResponse(handle tpm2.Handle, nonceTPM tpm2.Nonce) tpm2.ResponsePacket {
	return tpm2.MarshalResponsePacket(tpm2.ResponseSuccess, &handle, mu.MustMarshalToBytes(nonceTPM), nil)
}

// SuccessResponse returns a successful response packet with no handle and no parameters, such as
// the response to TPM2_FlushContext.
func SuccessResponse() tpm2.ResponsePacket {
	return tpm2.MarshalResponsePacket(tpm2.ResponseSuccess, nil, nil, nil)
}

// ErrorResponse returns a response packet containing only the specified response code.
func ErrorResponse(rc tpm2.ResponseCode) tpm2.ResponsePacket {
	return tpm2.MarshalResponsePacket(rc, nil, nil, nil)
}
