package code_test

import (
	"testing"

	"github.com/wsrpc/wsrpc/code"
)

func TestString(t *testing.T) {
	tests := []struct {
		c    code.Code
		want string
	}{
		{code.ParseError, "Parse error"},
		{code.InvalidRequest, "Invalid Request"},
		{code.MethodNotFound, "Method not found"},
		{code.InvalidParams, "Invalid params"},
		{code.InternalError, "Internal error"},
		{code.ServerError, "Server error"},
		{code.Code(-32050), "error code -32050"},
	}
	for _, test := range tests {
		if got := test.c.String(); got != test.want {
			t.Errorf("%d.String() = %q, want %q", test.c, got, test.want)
		}
	}
}

func TestRegister(t *testing.T) {
	c := code.Register(-32050, "custom error")
	if got, want := c.String(), "custom error"; got != want {
		t.Errorf("Register: String() = %q, want %q", got, want)
	}

	defer func() {
		if recover() == nil {
			t.Error("Register: expected panic on duplicate registration")
		}
	}()
	code.Register(-32050, "duplicate")
}
