package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/router-for-me/duplexrpc/rpcerr"
)

func TestErrorRecordPreservesShape(t *testing.T) {
	src := rpcerr.Remote("CustomError", "nope").WithProp("code", 404)
	src.Stack = "at boom()"
	src.Cause = rpcerr.Remote("Inner", "root cause")

	record := ErrorToWire(src)
	assert.Equal(t, "CustomError", record["name"])
	assert.Equal(t, "nope", record["message"])
	assert.Equal(t, "at boom()", record["stack"])
	assert.EqualValues(t, 404, record["code"])

	got := ErrorFromWire(record)
	assert.Equal(t, "CustomError", got.Name)
	assert.Equal(t, "nope", got.Message)
	assert.Equal(t, "at boom()", got.Stack)
	assert.EqualValues(t, 404, got.Prop("code"))
	require.NotNil(t, got.Cause)
	assert.Equal(t, "Inner", got.Cause.Name)
	assert.Equal(t, "root cause", got.Cause.Message)
}

func TestErrorRecordReservedFieldsWin(t *testing.T) {
	// A property named like a reserved field must not shadow it.
	src := rpcerr.Remote("Real", "real message").WithProp("name", "fake")
	record := ErrorToWire(src)
	assert.Equal(t, "Real", record["name"])
}

func TestErrorRecordFromStructuredError(t *testing.T) {
	src := rpcerr.New(rpcerr.CodeNotFound, "no such path %q", "a.b").WithDetail("method", "a.b")
	record := ErrorToWire(src)
	assert.Equal(t, string(rpcerr.CodeNotFound), record["name"])
	assert.Equal(t, `no such path "a.b"`, record["message"])
	assert.Equal(t, "a.b", record["method"])
}

func TestErrorRecordFromPlainError(t *testing.T) {
	record := ErrorToWire(errors.New("boom"))
	assert.Equal(t, "Error", record["name"])
	assert.Equal(t, "boom", record["message"])

	got := ErrorFromWire(record)
	assert.Equal(t, "boom", got.Error())
}

func TestErrorFromWireMalformed(t *testing.T) {
	got := ErrorFromWire("not a record")
	assert.Equal(t, "Error", got.Name)
	assert.NotEmpty(t, got.Message)
}
