// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

/*
Package mssim provides a transport for communicating with a TPM simulator that implements the
Microsoft TPM2 simulator interface, such as the IBM or Microsoft reference simulators.
*/
package mssim

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"golang.org/x/xerrors"

	"github.com/canonical/go-tpm2session/mu"
)

const (
	// DefaultPort is the default port of the simulator's TPM command channel. The platform
	// channel is on the next port.
	DefaultPort uint = 2321

	maxCommandSize = 4096

	defaultLocality uint8 = 3
)

var netDial = net.Dial

// PlatformCommandError corresponds to an error code in response to a platform command
// executed on a TPM simulator.
type PlatformCommandError struct {
	commandCode uint32
	Code        uint32
}

func (e *PlatformCommandError) Error() string {
	return fmt.Sprintf("received error code %d in response to platform command %d", e.Code, e.commandCode)
}

type deviceAddr struct {
	host string
	port uint
}

func (a deviceAddr) Network() string {
	return "tcp"
}

func (a deviceAddr) String() string {
	return net.JoinHostPort(a.host, strconv.FormatUint(uint64(a.port), 10))
}

// Device describes a TPM simulator device.
type Device struct {
	tpm      deviceAddr
	platform deviceAddr
}

// NewDevice returns a new device for the specified host and port. The port is the TPM command
// channel, and the platform channel is assumed to be on the subsequent port. If host is empty,
// "localhost" is used.
func NewDevice(host string, port uint) *Device {
	if host == "" {
		host = "localhost"
	}
	return &Device{
		tpm:      deviceAddr{host: host, port: port},
		platform: deviceAddr{host: host, port: port + 1}}
}

// NewLocalDevice returns a new device for the specified port on the local machine.
func NewLocalDevice(port uint) *Device {
	return NewDevice("", port)
}

// TPMAddr returns the address of the TPM command channel.
func (d *Device) TPMAddr() net.Addr {
	return d.tpm
}

// PlatformAddr returns the address of the platform channel.
func (d *Device) PlatformAddr() net.Addr {
	return d.platform
}

func (d *Device) String() string {
	return fmt.Sprintf("mssim device, tpm=%s, platform=%s", d.tpm, d.platform)
}

// Open connects to the simulator and returns a transport that can be passed to
// tpm2.NewTPMContext.
//
// Before returning, it sends the power on and NV on platform commands so that the simulated
// TPM is usable. These are no-ops if the simulator is already on. It does not call
// TPM2_Startup.
func (d *Device) Open() (transport *Transport, err error) {
	tpm, err := netDial(d.tpm.Network(), d.tpm.String())
	if err != nil {
		return nil, xerrors.Errorf("cannot connect to TPM socket: %w", err)
	}

	platform, err := netDial(d.platform.Network(), d.platform.String())
	if err != nil {
		tpm.Close()
		return nil, xerrors.Errorf("cannot connect to platform socket: %w", err)
	}

	transport = &Transport{
		tpm:      tpm,
		platform: platform,
		locality: defaultLocality}

	defer func() {
		if err != nil {
			transport.Close()
		}
	}()

	if err := transport.platformCommand(cmdPowerOn); err != nil {
		return nil, xerrors.Errorf("cannot complete power on command: %w", err)
	}
	if err := transport.platformCommand(cmdNVOn); err != nil {
		return nil, xerrors.Errorf("cannot complete NV on command: %w", err)
	}

	return transport, nil
}

// Transport represents a connection to a TPM simulator. It is not safe for concurrent use.
type Transport struct {
	tpm      net.Conn
	platform net.Conn

	locality uint8 // Locality of commands submitted to the simulator on this interface

	r io.Reader
}

// Read reads the response to the last command. The simulator frames each response with a
// size and a trailing acknowledgement, which are removed.
func (t *Transport) Read(data []byte) (int, error) {
	for {
		if t.r == nil {
			var size uint32
			if err := binary.Read(t.tpm, binary.BigEndian, &size); err != nil {
				return 0, err
			}

			t.r = io.LimitReader(t.tpm, int64(size))
		}

		n, err := t.r.Read(data)
		if err == io.EOF {
			t.r = nil
			err = nil

			var trash uint32
			if err := binary.Read(t.tpm, binary.BigEndian, &trash); err != nil {
				return 0, err
			}

			if n == 0 {
				continue
			}
		}
		return n, err
	}
}

// Write sends a complete command packet to the simulator.
func (t *Transport) Write(data []byte) (int, error) {
	if len(data) > maxCommandSize {
		return 0, fmt.Errorf("command too large (%d bytes)", len(data))
	}

	buf := mu.MustMarshalToBytes(cmdTPMSendCommand, t.locality, uint32(len(data)), mu.RawBytes(data))

	n, err := t.tpm.Write(buf)
	n -= len(buf) - len(data)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close ends the session on both channels and closes the connections.
func (t *Transport) Close() error {
	var result *multierror.Error

	binary.Write(t.platform, binary.BigEndian, cmdSessionEnd)
	binary.Write(t.tpm, binary.BigEndian, cmdSessionEnd)
	if err := t.platform.Close(); err != nil {
		result = multierror.Append(result, xerrors.Errorf("cannot close platform channel: %w", err))
	}
	if err := t.tpm.Close(); err != nil {
		result = multierror.Append(result, xerrors.Errorf("cannot close TPM command channel: %w", err))
	}
	return result.ErrorOrNil()
}

// Reset submits the reset command on the platform channel, which results in the execution of
// _TPM_Init() on the simulator. All sessions are lost.
func (t *Transport) Reset() error {
	return t.platformCommand(cmdReset)
}

// Stop submits a stop command on both channels, which shuts down the simulator.
func (t *Transport) Stop() error {
	if err := binary.Write(t.platform, binary.BigEndian, cmdStop); err != nil {
		return err
	}
	return binary.Write(t.tpm, binary.BigEndian, cmdStop)
}

func (t *Transport) platformCommand(cmd uint32) error {
	if err := binary.Write(t.platform, binary.BigEndian, cmd); err != nil {
		return xerrors.Errorf("cannot send command: %w", err)
	}

	var resp uint32
	if err := binary.Read(t.platform, binary.BigEndian, &resp); err != nil {
		return xerrors.Errorf("cannot read response to command: %w", err)
	}
	if resp != 0 {
		return &PlatformCommandError{cmd, resp}
	}

	return nil
}
