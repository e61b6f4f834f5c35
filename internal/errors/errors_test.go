// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	err := New(KindParse, "truncated dns message")
	assert.Equal(t, "truncated dns message", err.Error())

	wrapped := Wrap(err, KindBridge, "failed to apply rule")
	assert.Equal(t, "failed to apply rule: truncated dns message", wrapped.Error())
}

func TestGetKind(t *testing.T) {
	err := New(KindLookup, "domain not cached")
	assert.Equal(t, KindLookup, GetKind(err))

	wrapped := Wrap(err, KindFatal, "worker exiting")
	assert.Equal(t, KindFatal, GetKind(wrapped))

	assert.Equal(t, KindUnknown, GetKind(errors.New("std error")))
}

func TestAttributes(t *testing.T) {
	err := New(KindParse, "bad option")
	err = Attr(err, "field", "option_code")
	err = Attr(err, "value", 53)

	attrs := GetAttributes(err)
	assert.Equal(t, "option_code", attrs["field"])
	assert.Equal(t, 53, attrs["value"])

	wrapped := Wrap(err, KindBridge, "apply failed")
	wrapped = Attr(wrapped, "operation", "add rule")

	allAttrs := GetAttributes(wrapped)
	assert.Equal(t, "option_code", allAttrs["field"])
	assert.Equal(t, "add rule", allAttrs["operation"])
}
