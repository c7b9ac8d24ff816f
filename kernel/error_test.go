package kernel

import "testing"

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "heap",
		Message: "arena exhausted",
	}

	if err.Error() != err.Message {
		t.Fatalf("expected to err.Error() to return %q; got %q", err.Message, err.Error())
	}

	var asError error = err
	if asError != err {
		t.Fatal("expected *Error to compare equal by identity once converted to error")
	}
}
