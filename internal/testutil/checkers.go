// Copyright 2020 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package testutil

import (
	"reflect"

	"github.com/google/go-cmp/cmp"

	"golang.org/x/xerrors"

	. "gopkg.in/check.v1"
)

type isTrueChecker struct {
	*CheckerInfo
}

// IsTrue determines whether a boolean value is true.
var IsTrue Checker = &isTrueChecker{
	&CheckerInfo{Name: "IsTrue", Params: []string{"value"}}}

func (checker *isTrueChecker) Check(params []interface{}, names []string) (result bool, error string) {
	value, ok := params[0].(bool)
	if !ok {
		return false, names[0] + " is not a bool"
	}
	return value, ""
}

type isFalseChecker struct {
	*CheckerInfo
}

// IsFalse determines whether a boolean value is false.
var IsFalse Checker = &isFalseChecker{
	&CheckerInfo{Name: "IsFalse", Params: []string{"value"}}}

func (checker *isFalseChecker) Check(params []interface{}, names []string) (result bool, error string) {
	value, ok := params[0].(bool)
	if !ok {
		return false, names[0] + " is not a bool"
	}
	return !value, ""
}

type errorIsChecker struct {
	*CheckerInfo
}

// ErrorIs determines whether any error in a chain has a specific
// value, using xerrors.Is
//
// For example:
//
//	c.Check(err, ErrorIs, io.EOF)
var ErrorIs Checker = &errorIsChecker{
	&CheckerInfo{Name: "ErrorIs", Params: []string{"value", "expected"}}}

func (checker *errorIsChecker) Check(params []interface{}, names []string) (result bool, errStr string) {
	err, ok := params[0].(error)
	if !ok {
		return false, "value is not an error"
	}

	expected, ok := params[1].(error)
	if !ok {
		return false, "expected is not an error"
	}

	return xerrors.Is(err, expected), ""
}

type errorAsChecker struct {
	*CheckerInfo
}

// ErrorAs determines whether any error in a chain has a specific
// type, using xerrors.As.
//
// For example:
//
//	var e *tpm2.TPMParameterError
//	c.Check(err, ErrorAs, &e)
//	c.Check(e.Index, Equals, 1)
var ErrorAs Checker = &errorAsChecker{
	&CheckerInfo{Name: "ErrorAs", Params: []string{"value", "target"}}}

func (checker *errorAsChecker) Check(params []interface{}, names []string) (result bool, errStr string) {
	err, ok := params[0].(error)
	if !ok {
		return false, "value is not an error"
	}

	target := reflect.ValueOf(params[1])
	if !target.IsValid() || target.Kind() != reflect.Ptr || target.IsNil() {
		return false, "target must be a non-nil pointer"
	}

	return xerrors.As(err, params[1]), ""
}

type cmpEqualsChecker struct {
	*CheckerInfo
}

// CmpEquals determines whether two values are equal using cmp.Equal, and
// reports the difference using cmp.Diff when they are not.
//
// For example:
//
//	c.Check(authArea, CmpEquals, expectedAuthArea)
var CmpEquals Checker = &cmpEqualsChecker{
	&CheckerInfo{Name: "CmpEquals", Params: []string{"obtained", "expected"}}}

func (checker *cmpEqualsChecker) Check(params []interface{}, names []string) (result bool, errStr string) {
	if diff := cmp.Diff(params[1], params[0]); diff != "" {
		return false, "(-expected +obtained):\n" + diff
	}
	return true, ""
}
