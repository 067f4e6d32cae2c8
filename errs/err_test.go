package errs

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: CodeOK},
		{err: Fail, want: CodeFail},
		{err: Param, want: CodeParam},
		{err: Mem, want: CodeMem},
		{err: Send, want: CodeSend},
		{err: Desc(Send, "broken pipe"), want: CodeSend},
		{err: fmt.Errorf("header: %w", Desc(Mem, "buffer is full")), want: CodeMem},
		{err: io.EOF, want: CodeFail},
		{err: BadStatusCode, want: CodeFail},
	}
	for i, tt := range tests {
		t.Run("Case-"+strconv.Itoa(i+1), func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrWithDesc(t *testing.T) {
	err := Desc(Param, "unknown uri: ftp://x")

	if err.Error() != "bad_param, desc:unknown uri: ftp://x" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, Param) {
		t.Errorf("expected errors.Is(err, Param)")
	}

	var d ErrWithDesc
	if !errors.As(err, &d) || d.Desc != "unknown uri: ftp://x" {
		t.Errorf("errors.As failed: %#v", d)
	}
}
