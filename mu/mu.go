// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package mu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"

	"golang.org/x/xerrors"
)

var (
	customMarshallerType   reflect.Type = reflect.TypeOf((*CustomMarshaller)(nil)).Elem()
	customUnmarshallerType reflect.Type = reflect.TypeOf((*CustomUnmarshaller)(nil)).Elem()
	rawBytesType           reflect.Type = reflect.TypeOf(RawBytes(nil))
)

// CustomMarshaller is implemented by types that require custom marshalling behaviour because
// they are non-standard and not directly supported by the marshalling code, such as TPMT
// prefixed types with a union member. Implementations should use a value receiver so that
// they can be passed directly by value to MarshalToBytes or MarshalToWriter.
type CustomMarshaller interface {
	Marshal(w io.Writer) error
}

// CustomUnmarshaller is the unmarshalling counterpart of CustomMarshaller. It must be
// implemented with a pointer receiver.
type CustomUnmarshaller interface {
	Unmarshal(r io.Reader) error
}

// RawBytes is a special byte slice type which is marshalled and unmarshalled without a size
// field. The slice must be pre-allocated to the correct length by the caller during
// unmarshalling.
type RawBytes []byte

// Error is returned from any function in this package to provide context of where an error
// occurred.
type Error struct {
	// Index indicates the argument on which this error occurred.
	Index int

	Op string

	total    int
	leafType reflect.Type
	err      error
}

func (e *Error) Error() string {
	s := new(bytes.Buffer)
	fmt.Fprintf(s, "cannot %s argument ", e.Op)
	if e.total > 1 {
		fmt.Fprintf(s, "%d ", e.Index)
	}
	fmt.Fprintf(s, "whilst processing element of type %s: %v", e.leafType, e.err)
	return s.String()
}

func (e *Error) Unwrap() error {
	return e.err
}

// Type returns the type of the value on which this error occurred.
func (e *Error) Type() reflect.Type {
	return e.leafType
}

type context struct {
	mode  string
	index int
	total int
}

func (c *context) newError(t reflect.Type, err error) error {
	if err == io.EOF {
		// All io.EOF is unexpected
		err = io.ErrUnexpectedEOF
	}
	var e *Error
	if xerrors.As(err, &e) {
		return err
	}
	return &Error{Index: c.index, Op: c.mode, total: c.total, leafType: t, err: err}
}

type marshaller struct {
	*context
	w      io.Writer
	nbytes int
}

func (m *marshaller) Write(p []byte) (n int, err error) {
	n, err = m.w.Write(p)
	m.nbytes += n
	return
}

func (m *marshaller) marshalBytes(v reflect.Value) error {
	if v.Type() == rawBytesType {
		_, err := m.Write(v.Bytes())
		return err
	}
	if v.Len() > math.MaxUint16 {
		return fmt.Errorf("sized value size of %d is larger than 2^16-1", v.Len())
	}
	if err := binary.Write(m, binary.BigEndian, uint16(v.Len())); err != nil {
		return err
	}
	_, err := m.Write(v.Bytes())
	return err
}

func (m *marshaller) marshalList(v reflect.Value) error {
	if uint64(v.Len()) > math.MaxUint32 {
		return fmt.Errorf("list length of %d is larger than 2^32-1", v.Len())
	}
	if err := binary.Write(m, binary.BigEndian, uint32(v.Len())); err != nil {
		return err
	}
	for i := 0; i < v.Len(); i++ {
		if err := m.marshalValue(v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (m *marshaller) marshalStruct(v reflect.Value) error {
	for i := 0; i < v.NumField(); i++ {
		if v.Type().Field(i).PkgPath != "" {
			// unexported
			continue
		}
		if err := m.marshalValue(v.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func (m *marshaller) marshalValue(v reflect.Value) error {
	if v.Type().Implements(customMarshallerType) {
		if v.Kind() == reflect.Ptr && v.IsNil() {
			v = reflect.New(v.Type().Elem())
		}
		if err := v.Interface().(CustomMarshaller).Marshal(m); err != nil {
			return m.newError(v.Type(), err)
		}
		return nil
	}

	var err error
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return m.marshalValue(reflect.Zero(v.Type().Elem()))
		}
		return m.marshalValue(v.Elem())
	case reflect.Bool, reflect.Int8, reflect.Uint8, reflect.Int16, reflect.Uint16, reflect.Int32, reflect.Uint32,
		reflect.Int64, reflect.Uint64:
		err = binary.Write(m, binary.BigEndian, v.Interface())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			err = m.marshalBytes(v)
		} else {
			err = m.marshalList(v)
		}
	case reflect.Struct:
		err = m.marshalStruct(v)
	default:
		err = fmt.Errorf("unsupported kind: %v", v.Kind())
	}
	if err != nil {
		return m.newError(v.Type(), err)
	}
	return nil
}

func (m *marshaller) marshal(vals ...interface{}) (int, error) {
	m.total = len(vals)
	for i, v := range vals {
		m.index = i
		if err := m.marshalValue(reflect.ValueOf(v)); err != nil {
			return m.nbytes, err
		}
	}
	return m.nbytes, nil
}

type lener interface {
	Len() int
}

type unmarshaller struct {
	*context
	r      io.Reader
	nbytes int
}

func (u *unmarshaller) Read(p []byte) (n int, err error) {
	n, err = u.r.Read(p)
	u.nbytes += n
	return
}

// Len returns the number of bytes remaining in the underlying reader, or -1 if this
// isn't known.
func (u *unmarshaller) Len() int {
	l, ok := u.r.(lener)
	if !ok {
		return -1
	}
	return l.Len()
}

func (u *unmarshaller) checkRemaining(n int) error {
	remaining := u.Len()
	if remaining < 0 {
		return nil
	}
	if n > remaining {
		return xerrors.Errorf("%d bytes requested but only %d bytes remain: %w", n, remaining, io.ErrUnexpectedEOF)
	}
	return nil
}

func (u *unmarshaller) unmarshalBytes(v reflect.Value) error {
	if v.Type() == rawBytesType {
		_, err := io.ReadFull(u, v.Bytes())
		return err
	}

	var size uint16
	if err := binary.Read(u, binary.BigEndian, &size); err != nil {
		return xerrors.Errorf("cannot read size of sized buffer: %w", err)
	}
	if err := u.checkRemaining(int(size)); err != nil {
		return err
	}
	if size == 0 {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	b := reflect.MakeSlice(v.Type(), int(size), int(size))
	if _, err := io.ReadFull(u, b.Bytes()); err != nil {
		return xerrors.Errorf("cannot read sized buffer: %w", err)
	}
	v.Set(b)
	return nil
}

func (u *unmarshaller) unmarshalList(v reflect.Value) error {
	var length uint32
	if err := binary.Read(u, binary.BigEndian, &length); err != nil {
		return xerrors.Errorf("cannot read length of list: %w", err)
	}
	// Every element is at least one byte.
	if err := u.checkRemaining(int(length)); err != nil {
		return err
	}
	l := reflect.MakeSlice(v.Type(), int(length), int(length))
	for i := 0; i < int(length); i++ {
		if err := u.unmarshalValue(l.Index(i)); err != nil {
			return err
		}
	}
	v.Set(l)
	return nil
}

func (u *unmarshaller) unmarshalStruct(v reflect.Value) error {
	for i := 0; i < v.NumField(); i++ {
		if v.Type().Field(i).PkgPath != "" {
			continue
		}
		if err := u.unmarshalValue(v.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func (u *unmarshaller) unmarshalValue(v reflect.Value) error {
	if reflect.PtrTo(v.Type()).Implements(customUnmarshallerType) {
		if err := v.Addr().Interface().(CustomUnmarshaller).Unmarshal(u); err != nil {
			return u.newError(v.Type(), err)
		}
		return nil
	}

	var err error
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return u.unmarshalValue(v.Elem())
	case reflect.Bool, reflect.Int8, reflect.Uint8, reflect.Int16, reflect.Uint16, reflect.Int32, reflect.Uint32,
		reflect.Int64, reflect.Uint64:
		err = binary.Read(u, binary.BigEndian, v.Addr().Interface())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			err = u.unmarshalBytes(v)
		} else {
			err = u.unmarshalList(v)
		}
	case reflect.Struct:
		err = u.unmarshalStruct(v)
	default:
		err = fmt.Errorf("unsupported kind: %v", v.Kind())
	}
	if err != nil {
		return u.newError(v.Type(), err)
	}
	return nil
}

func (u *unmarshaller) unmarshal(vals ...interface{}) (int, error) {
	u.total = len(vals)
	for i, v := range vals {
		u.index = i
		if err := u.unmarshalValue(reflect.ValueOf(v).Elem()); err != nil {
			return u.nbytes, err
		}
	}
	return u.nbytes, nil
}

// MarshalToWriter marshals vals to w in the TPM wire format, according to the rules specified
// in the package description. A nil pointer encountered during marshalling causes the zero
// value for the type to be marshalled.
//
// The number of bytes written to w are returned. If this function does not complete
// successfully, it will return an error and the number of bytes written.
func MarshalToWriter(w io.Writer, vals ...interface{}) (int, error) {
	m := &marshaller{context: &context{mode: "marshal"}, w: w}
	return m.marshal(vals...)
}

// MustMarshalToWriter is the same as MarshalToWriter, except that it panics if it encounters
// an error.
func MustMarshalToWriter(w io.Writer, vals ...interface{}) int {
	n, err := MarshalToWriter(w, vals...)
	if err != nil {
		panic(err)
	}
	return n
}

// MarshalToBytes marshals vals to the TPM wire format, according to the rules specified in the
// package description.
//
// This function only returns an error if a sized value is too large for its corresponding size
// field, if a value has an unsupported type, or if a custom marshaller fails.
func MarshalToBytes(vals ...interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := MarshalToWriter(buf, vals...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshalToBytes is the same as MarshalToBytes, except that it panics if it encounters an
// error.
func MustMarshalToBytes(vals ...interface{}) []byte {
	b, err := MarshalToBytes(vals...)
	if err != nil {
		panic(err)
	}
	return b
}

// UnmarshalFromReader unmarshals data in the TPM wire format from r to vals, according to the
// rules specified in the package description. The values supplied to this function must be
// pointers to the destination values. New slices are always created, except for RawBytes
// which must be preallocated to the expected size.
//
// The number of bytes read from r are returned. If this function does not complete
// successfully, it will return an error and the number of bytes read. In this case, partial
// results may have been unmarshalled to the supplied destination values.
func UnmarshalFromReader(r io.Reader, vals ...interface{}) (int, error) {
	for _, val := range vals {
		v := reflect.ValueOf(val)
		if v.Kind() != reflect.Ptr {
			panic(fmt.Sprintf("cannot unmarshal to non-pointer type %s", v.Type()))
		}

		if v.IsNil() {
			panic(fmt.Sprintf("cannot unmarshal to nil pointer of type %s", v.Type()))
		}
	}

	u := &unmarshaller{context: &context{mode: "unmarshal"}, r: r}
	return u.unmarshal(vals...)
}

// UnmarshalFromBytes unmarshals data in the TPM wire format from b to vals. See
// UnmarshalFromReader.
//
// If successful, this function returns the number of bytes consumed from b.
func UnmarshalFromBytes(b []byte, vals ...interface{}) (int, error) {
	return UnmarshalFromReader(bytes.NewReader(b), vals...)
}
