package h2

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/rendau/httpc/adapters/client/httpc"
	"github.com/rendau/httpc/adapters/client/httpc/transport"
	"github.com/rendau/httpc/adapters/logger"
	"github.com/rendau/httpc/errs"
)

const (
	defaultHeaderTableSize   = 4096
	defaultInitialWindowSize = 65535
	defaultMaxFrameSize      = 16384
	maxConcurrentStreams     = 100
	maxStreamID              = math.MaxInt32

	eventQueueSize = 64
	pollInterval   = 10 * time.Millisecond
)

// St is an HTTP/2 session over one connection. Requests are queued with
// SubmitRequest and progress only inside CoreRun or Run, which must be
// called from the goroutine that owns the session.
type St struct {
	lg   logger.Lite
	uri  httpc.URISt
	conn *transport.Conn

	wfr  *http2.Framer
	rfr  *http2.Framer
	henc *hpack.Encoder
	hbuf bytes.Buffer

	events     chan event
	quit       chan struct{}
	readerDone chan struct{}

	streams      map[uint32]*stream
	order        []uint32
	nextStreamID uint32

	connSendWindow    int64
	peerInitialWindow int64
	peerMaxFrameSize  uint32

	goAway bool
	err    error
	closed bool
}

func Init(ctx context.Context, uri, port string, tlsInfo *httpc.TLSInfoSt, opts transport.DialOptionsSt) (*St, error) {
	u, err := httpc.ParseURI(uri, port)
	if err != nil {
		return nil, err
	}

	lg := logger.OrNop(opts.Lg)

	opts.Version = httpc.Ver20
	opts.TLS = tlsInfo

	conn, err := transport.Dial(ctx, u, opts)
	if err != nil {
		return nil, err
	}

	if u.Secure && conn.NegotiatedProtocol() != "h2" {
		_ = conn.Close()
		lg.Errorw("alpn did not select h2", nil, "host", u.Host, "proto", conn.NegotiatedProtocol())
		return nil, errs.Desc(errs.Fail, "h2 is not negotiated")
	}

	c := &St{
		lg:                lg,
		uri:               u,
		conn:              conn,
		wfr:               http2.NewFramer(conn, nil),
		rfr:               http2.NewFramer(nil, conn),
		events:            make(chan event, eventQueueSize),
		quit:              make(chan struct{}),
		readerDone:        make(chan struct{}),
		streams:           map[uint32]*stream{},
		nextStreamID:      1,
		connSendWindow:    defaultInitialWindowSize,
		peerInitialWindow: defaultInitialWindowSize,
		peerMaxFrameSize:  defaultMaxFrameSize,
	}

	c.henc = hpack.NewEncoder(&c.hbuf)
	c.rfr.ReadMetaHeaders = hpack.NewDecoder(defaultHeaderTableSize, nil)

	if _, err = conn.Send([]byte(http2.ClientPreface)); err != nil {
		_ = conn.Close()
		return nil, errs.Desc(errs.Fail, "write preface: "+err.Error())
	}

	err = c.wfr.WriteSettings(
		http2.Setting{ID: http2.SettingEnablePush, Val: 0},
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: maxConcurrentStreams},
	)
	if err != nil {
		_ = conn.Close()
		return nil, errs.Desc(errs.Fail, "write settings: "+err.Error())
	}

	go c.readLoop()

	lg.Debugw("h2 session started", "host", u.Host, "secure", u.Secure)

	return c, nil
}

func (c *St) Host() string {
	return c.uri.Host
}

func (c *St) Path() string {
	return c.uri.Path
}

func (c *St) Scheme() string {
	return c.uri.Scheme()
}

// SubmitRequest queues a request and returns its stream id. Nothing goes to
// the wire until the next run. A nil read sends the HEADERS frame with
// END_STREAM.
func (c *St) SubmitRequest(nva []hpack.HeaderField, read ReadFromUser, write WriteToUser) (int32, error) {
	if c == nil || len(nva) == 0 {
		return -1, errs.Param
	}
	if c.err != nil {
		return -1, c.err
	}
	if c.closed || c.goAway {
		return -1, errs.Desc(errs.Fail, "session is going away")
	}

	if err := validateNva(nva); err != nil {
		return -1, err
	}

	if c.nextStreamID > maxStreamID {
		return -1, errs.Desc(errs.Fail, "stream ids exhausted")
	}

	id := c.nextStreamID
	c.nextStreamID += 2

	c.streams[id] = &stream{
		StreamSt:   StreamSt{ID: int32(id)},
		read:       read,
		write:      write,
		nva:        append([]hpack.HeaderField(nil), nva...),
		sendWindow: c.peerInitialWindow,
	}
	c.order = append(c.order, id)

	return int32(id), nil
}

func validateNva(nva []hpack.HeaderField) error {
	var hasMethod, hasPath, regular bool

	for _, f := range nva {
		if strings.HasPrefix(f.Name, ":") {
			if regular {
				return errs.Desc(errs.Param, "pseudo header after regular one: "+f.Name)
			}
			switch f.Name {
			case ":method":
				hasMethod = f.Value != ""
			case ":path":
				hasPath = f.Value != ""
			case ":scheme", ":authority":
			default:
				return errs.Desc(errs.Param, "unknown pseudo header "+f.Name)
			}
			continue
		}

		regular = true

		if f.Name != strings.ToLower(f.Name) || !httpguts.ValidHeaderFieldName(f.Name) {
			return errs.Desc(errs.Param, "bad header name "+f.Name)
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return errs.Desc(errs.Param, "bad header value for "+f.Name)
		}
	}

	if !hasMethod || !hasPath {
		return errs.Desc(errs.Param, ":method and :path are required")
	}

	return nil
}

// CoreRun makes one send pass, flushing every frame flow control allows,
// and one receive pass over the frames that already arrived. It never
// waits for the peer.
func (c *St) CoreRun(ctx context.Context) error {
	if c == nil {
		return errs.Param
	}
	if c.err != nil {
		return c.err
	}
	if c.closed {
		return errs.NotConnected
	}
	if err := ctx.Err(); err != nil {
		return errs.Desc(errs.Fail, err.Error())
	}

	if err := c.sendPass(); err != nil {
		return c.fail(err)
	}

	for {
		select {
		case ev := <-c.events:
			if err := c.process(ev); err != nil {
				return c.fail(err)
			}
		default:
			return nil
		}
	}
}

// Run drives the session until every submitted stream is closed.
func (c *St) Run(ctx context.Context) error {
	if c == nil {
		return errs.Param
	}

	for {
		if err := c.CoreRun(ctx); err != nil {
			return err
		}

		if c.OpenStreams() == 0 {
			return nil
		}

		if err := c.wait(ctx); err != nil {
			return err
		}
	}
}

// wait blocks for the next frame. Streams with data still to send are
// polled instead, since their readers may have deferred.
func (c *St) wait(ctx context.Context) error {
	var poll <-chan time.Time
	if c.wantsSend() {
		timer := time.NewTimer(pollInterval)
		defer timer.Stop()
		poll = timer.C
	}

	select {
	case ev := <-c.events:
		if err := c.process(ev); err != nil {
			return c.fail(err)
		}
	case <-poll:
	case <-ctx.Done():
		return errs.Desc(errs.Fail, ctx.Err().Error())
	}

	return nil
}

// Stream returns the response state of a submitted stream.
func (c *St) Stream(id int32) (StreamSt, bool) {
	if c == nil || id <= 0 {
		return StreamSt{}, false
	}

	s, ok := c.streams[uint32(id)]
	if !ok {
		return StreamSt{}, false
	}

	return s.snapshot(), true
}

// OpenStreams counts streams that are not closed yet.
func (c *St) OpenStreams() int {
	if c == nil {
		return 0
	}

	res := 0
	for _, s := range c.streams {
		if !s.Closed {
			res++
		}
	}

	return res
}

func (c *St) wantsSend() bool {
	for _, s := range c.streams {
		if !s.Closed && (!s.headersSent || !s.localClosed) {
			return true
		}
	}
	return false
}

// fail makes the session unusable. A protocol violation by the peer is
// reported to it with GOAWAY.
func (c *St) fail(err error) error {
	if c.err == nil {
		c.lg.Errorw("h2 session fail", err, "host", c.uri.Host)

		var ce http2.ConnectionError
		if errors.As(err, &ce) {
			if wErr := c.wfr.WriteGoAway(0, http2.ErrCode(ce), nil); wErr != nil {
				c.lg.Debugw("write goaway fail", "error", wErr)
			}
		}

		c.err = errs.Desc(errs.Fail, err.Error())

		for _, id := range c.order {
			if s := c.streams[id]; !s.Closed {
				s.Closed = true
				s.Err = c.err
			}
		}
	}
	return c.err
}

// Deinit sends GOAWAY, closes the connection and waits for the reader.
// It is safe on nil and may be called twice.
func (c *St) Deinit() error {
	if c == nil || c.closed {
		return nil
	}
	c.closed = true

	if c.err == nil {
		if err := c.wfr.WriteGoAway(0, http2.ErrCodeNo, nil); err != nil {
			c.lg.Debugw("write goaway fail", "error", err)
		}
	}

	close(c.quit)

	err := c.conn.Close()

	<-c.readerDone

	c.lg.Debugw("h2 session closed", "host", c.uri.Host)

	return err
}
