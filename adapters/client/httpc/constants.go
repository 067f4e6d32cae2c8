package httpc

import (
	"time"
)

const (
	LogRequest         = 1
	LogResponse        = 2
	NoLogError         = 4
	NoLogNotAuthorized = 8
	NoLogBadStatus     = 16
)

const (
	DefaultSocketTimeout = 10 * time.Second
	DefaultHeaderBufSize = 4096
	DefaultRecvBufSize   = 4096
	DefaultUserAgent     = "Tiny HTTPClient Agent"
	DefaultRunTimeout    = 30 * time.Second
)

// Version selects the wire protocol of a connection.
type Version int

const (
	Ver11 Version = 0 // HTTP/1.1
	Ver20 Version = 1 // HTTP/2
)

func (v Version) String() string {
	switch v {
	case Ver11:
		return "HTTP/1.1"
	case Ver20:
		return "HTTP/2"
	default:
		return "unknown"
	}
}

// Mode selects how a response body is read.
type Mode int

const (
	ModeUnknown Mode = 0
	ModeNormal  Mode = 1 // raw body bytes, bounded by Content-Length when present
	ModeChunk   Mode = 2 // one chunk of a chunked body per call
	ModeMax     Mode = 0xff
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeChunk:
		return "chunk"
	default:
		return "unknown"
	}
}
