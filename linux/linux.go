// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

/*
Package linux provides a transport for communicating with a TPM via the Linux TPM character
device, either the resource managed /dev/tpmrm0 or the direct /dev/tpm0.
*/
package linux

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

const (
	maxResponseSize = 4096
)

var (
	// DefaultDevicePaths are the character devices tried by OpenDefaultDevice, in order. The
	// resource managed device is preferred so that sessions are not shared with other users
	// of the TPM.
	DefaultDevicePaths = []string{"/dev/tpmrm0", "/dev/tpm0"}

	// ErrNoTPMDevices indicates that none of DefaultDevicePaths exist.
	ErrNoTPMDevices = errors.New("no TPM devices are available")
)

// Transport represents a connection to a Linux TPM character device. It is not safe for
// concurrent use.
type Transport struct {
	f   *os.File
	buf *bytes.Reader
}

func (d *Transport) readMoreData() error {
	fds := []unix.PollFd{{Fd: int32(d.f.Fd()), Events: unix.POLLIN}}
	for {
		_, err := unix.Ppoll(fds, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return xerrors.Errorf("polling device failed: %w", err)
		}
		break
	}

	if fds[0].Revents&unix.POLLIN == 0 {
		return fmt.Errorf("invalid poll events returned: %d", fds[0].Revents)
	}

	buf := make([]byte, maxResponseSize)
	n, err := d.f.Read(buf)
	if err != nil {
		return xerrors.Errorf("reading from device failed: %w", err)
	}

	d.buf = bytes.NewReader(buf[:n])
	return nil
}

// Read reads the response to the last command. The driver returns the complete response in a
// single read, which is buffered so that it can be consumed in smaller pieces.
func (d *Transport) Read(data []byte) (int, error) {
	if d.buf == nil {
		if err := d.readMoreData(); err != nil {
			return 0, err
		}
	}

	n, err := d.buf.Read(data)
	if d.buf.Len() == 0 {
		d.buf = nil
	}
	return n, err
}

// Write sends a complete command packet to the device.
func (d *Transport) Write(data []byte) (int, error) {
	return d.f.Write(data)
}

func (d *Transport) Close() error {
	return d.f.Close()
}

// Path returns the path of the character device.
func (d *Transport) Path() string {
	return d.f.Name()
}

// OpenDevice attempts to open a connection to the Linux TPM character device at the specified
// path. If successful, it returns a new Transport which can be passed to tpm2.NewTPMContext.
// Failure to open the device will result in a wrapped *os.PathError being returned.
func OpenDevice(path string) (*Transport, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, xerrors.Errorf("cannot open linux TPM device: %w", err)
	}

	s, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("cannot stat linux TPM device: %w", err)
	}

	if s.Mode()&os.ModeDevice == 0 {
		f.Close()
		return nil, fmt.Errorf("unsupported file mode %v", s.Mode())
	}

	return &Transport{f: f}, nil
}

// OpenDefaultDevice opens the first of DefaultDevicePaths that exists. If none exist,
// ErrNoTPMDevices is returned.
func OpenDefaultDevice() (*Transport, error) {
	for _, path := range DefaultDevicePaths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, xerrors.Errorf("cannot stat %s: %w", path, err)
		}
		return OpenDevice(path)
	}
	return nil, ErrNoTPMDevices
}
