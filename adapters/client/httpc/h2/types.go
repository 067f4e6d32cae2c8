package h2

import (
	"net/http"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

type DataFlags uint8

const (
	DataFlagNone DataFlags = 0
	DataFlagEOF  DataFlags = 1 // last piece of the stream's data
)

// ReadFromUser supplies request body bytes for a stream. Returning n == 0
// without DataFlagEOF defers the stream until the next run.
type ReadFromUser func(streamID int32, buf []byte) (n int, flags DataFlags, err error)

// WriteToUser receives every DATA frame payload of a stream. flags carries
// DataFlagEOF on the frame that ends the stream.
type WriteToUser func(streamID int32, data []byte, flags DataFlags) error

// MakeNv builds one request header field. Names are lower-cased as HTTP/2
// requires.
func MakeNv(name, value string) hpack.HeaderField {
	return hpack.HeaderField{Name: strings.ToLower(name), Value: value}
}

// StreamSt is a snapshot of a stream's response state.
type StreamSt struct {
	ID        int32
	Status    int
	Header    http.Header
	Trailer   http.Header
	Closed    bool
	ResetCode http2.ErrCode
	Err       error
}

type stream struct {
	StreamSt

	read  ReadFromUser
	write WriteToUser
	nva   []hpack.HeaderField

	headersSent bool
	localClosed bool
	sendWindow  int64
	pending     []byte
	pendingEOF  bool
}

func (s *stream) snapshot() StreamSt {
	res := s.StreamSt
	res.Header = s.Header.Clone()
	res.Trailer = s.Trailer.Clone()
	return res
}

// event is a frame copied out of the reader, since frames are only valid
// until the next ReadFrame call.
type event struct {
	typ      http2.FrameType
	streamID uint32
	flags    http2.Flags

	data      []byte
	flowLen   uint32
	fields    []hpack.HeaderField
	settings  []http2.Setting
	errCode   http2.ErrCode
	increment uint32
	ping      [8]byte
	lastID    uint32

	err error
}
