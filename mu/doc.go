// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

/*
Package mu provides helpers to marshalling to and unmarshalling from the TPM wire format.

Go types are marshalled to and from the TPM wire format according to the following rules:
  - UINT8, BYTE, INT8, BOOL, UINT16, INT16, UINT32, INT32, UINT64, INT64 <-> the Go type with
    the same size and signedness, or any type with an identical underlying type. All values
    are big-endian.
  - TPM2B prefixed byte buffers (2-byte size field) <-> []byte, or any type with an identical
    underlying type.
  - TPML prefixed types (lists with a 4-byte length field) <-> slice of whichever go type
    corresponds to the underlying TPM type.
  - TPMS prefixed types (structures) <-> struct. Unexported fields are ignored.
  - Anything else, such as TPMT prefixed types that contain a union <-> a type that implements
    CustomMarshaller and CustomUnmarshaller.

The RawBytes type is marshalled without a size field, and is used for writing payloads that
are already in the TPM wire format.

Pointer types are automatically dereferenced. Nil pointers are marshalled as the zero value.
*/
package mu
