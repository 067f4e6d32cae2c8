package errs

import (
	"errors"
)

// Err

type Err string

func (e Err) Error() string {
	return string(e)
}

// ErrWithDesc

type ErrWithDesc struct {
	Err  Err
	Desc string
}

func (e ErrWithDesc) Error() string {
	return e.Err.Error() + ", desc:" + e.Desc
}

func (e ErrWithDesc) Unwrap() error {
	return e.Err
}

func Desc(err Err, desc string) error {
	return ErrWithDesc{Err: err, Desc: desc}
}

// errors

const (
	Fail  = Err("fail")
	Param = Err("bad_param")
	Mem   = Err("mem")
	Send  = Err("send_fail")

	BadStatusCode = Err("bad_status_code")
	NotAuthorized = Err("not_authorized")
	NotConnected  = Err("not_connected")
)

// numeric error kinds

const (
	CodeOK    = 0
	CodeFail  = -1
	CodeParam = -2
	CodeMem   = -3
	CodeSend  = -4
)

// Code maps err to one of the numeric error kinds.
// Everything that is not a parameter, memory or send error is a general failure.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, Param):
		return CodeParam
	case errors.Is(err, Mem):
		return CodeMem
	case errors.Is(err, Send):
		return CodeSend
	default:
		return CodeFail
	}
}
