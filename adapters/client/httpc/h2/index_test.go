package h2

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/rendau/httpc/adapters/client/httpc/transport"
	"github.com/rendau/httpc/errs"
)

type serverConn struct {
	t    *testing.T
	fr   *http2.Framer
	enc  *hpack.Encoder
	hbuf bytes.Buffer

	clientSettings []http2.Setting
}

// serveH2 accepts one prior-knowledge HTTP/2 connection and hands a
// server side framer to fn.
func serveH2(t *testing.T, fn func(sc *serverConn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})

	go func() {
		defer close(done)

		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		preface := make([]byte, len(http2.ClientPreface))
		if _, err = io.ReadFull(c, preface); err != nil || string(preface) != http2.ClientPreface {
			t.Errorf("bad preface %q, %v", preface, err)
			return
		}

		sc := &serverConn{t: t, fr: http2.NewFramer(c, c)}
		sc.fr.ReadMetaHeaders = hpack.NewDecoder(4096, nil)
		sc.enc = hpack.NewEncoder(&sc.hbuf)

		if err = sc.fr.WriteSettings(); err != nil {
			t.Errorf("write settings: %v", err)
			return
		}

		fn(sc)
	}()

	return "http://" + ln.Addr().String()
}

// next skips SETTINGS and WINDOW_UPDATE frames.
func (sc *serverConn) next() (http2.Frame, error) {
	for {
		f, err := sc.fr.ReadFrame()
		if err != nil {
			return nil, err
		}

		switch f := f.(type) {
		case *http2.SettingsFrame:
			if !f.IsAck() {
				_ = f.ForeachSetting(func(s http2.Setting) error {
					sc.clientSettings = append(sc.clientSettings, s)
					return nil
				})
				if err = sc.fr.WriteSettingsAck(); err != nil {
					return nil, err
				}
			}
			continue
		case *http2.WindowUpdateFrame:
			continue
		}

		return f, nil
	}
}

func (sc *serverConn) nextHeaders() *http2.MetaHeadersFrame {
	f, err := sc.next()
	if err != nil {
		sc.t.Errorf("read frame: %v", err)
		return nil
	}

	hf, ok := f.(*http2.MetaHeadersFrame)
	if !ok {
		sc.t.Errorf("expected HEADERS, got %v", f.Header().Type)
		return nil
	}

	return hf
}

func (sc *serverConn) writeHeaders(streamID uint32, end bool, kv ...string) {
	sc.hbuf.Reset()
	for i := 0; i+1 < len(kv); i += 2 {
		_ = sc.enc.WriteField(hpack.HeaderField{Name: kv[i], Value: kv[i+1]})
	}

	err := sc.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: sc.hbuf.Bytes(),
		EndStream:     end,
		EndHeaders:    true,
	})
	if err != nil {
		sc.t.Errorf("write headers: %v", err)
	}
}

// waitClose reads until the client goes away.
func (sc *serverConn) waitClose() {
	for {
		f, err := sc.fr.ReadFrame()
		if err != nil {
			return
		}
		if _, ok := f.(*http2.GoAwayFrame); ok {
			return
		}
	}
}

func newSession(t *testing.T, uri string) *St {
	t.Helper()

	c, err := Init(context.Background(), uri, "", nil, transport.DialOptionsSt{})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Deinit() })

	return c
}

func runCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type bodySt struct {
	buf   bytes.Buffer
	calls int
	eof   bool
}

func (b *bodySt) write(_ int32, data []byte, flags DataFlags) error {
	b.calls++
	b.buf.Write(data)
	b.eof = flags&DataFlagEOF != 0
	return nil
}

func getNva(c *St, path string) []hpack.HeaderField {
	return []hpack.HeaderField{
		MakeNv(":method", "GET"),
		MakeNv(":scheme", c.Scheme()),
		MakeNv(":authority", c.Host()),
		MakeNv(":path", path),
		MakeNv("User-Agent", "Tiny HTTPClient Agent"),
	}
}

func TestSt_get(t *testing.T) {
	uri := serveH2(t, func(sc *serverConn) {
		hf := sc.nextHeaders()
		if hf == nil {
			return
		}

		if !hf.StreamEnded() || hf.PseudoValue("method") != "GET" || hf.PseudoValue("path") != "/get" {
			t.Errorf("unexpected request headers %v", hf.Fields)
		}

		var ua string
		for _, f := range hf.RegularFields() {
			if f.Name == "user-agent" {
				ua = f.Value
			}
		}
		if ua != "Tiny HTTPClient Agent" {
			t.Errorf("user-agent = %q", ua)
		}

		pushDisabled := false
		for _, s := range sc.clientSettings {
			if s.ID == http2.SettingEnablePush && s.Val == 0 {
				pushDisabled = true
			}
		}
		if !pushDisabled {
			t.Errorf("client settings %v do not disable push", sc.clientSettings)
		}

		sc.writeHeaders(hf.StreamID, false, ":status", "200", "content-type", "text/plain")
		_ = sc.fr.WriteData(hf.StreamID, false, []byte("hello "))
		_ = sc.fr.WriteData(hf.StreamID, true, []byte("world"))

		sc.waitClose()
	})

	c := newSession(t, uri+"/get")

	var body bodySt

	id, err := c.SubmitRequest(getNva(c, c.Path()), nil, body.write)
	if err != nil || id != 1 {
		t.Fatalf("SubmitRequest() = %d, %v", id, err)
	}

	if err = c.Run(runCtx(t)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if body.buf.String() != "hello world" || !body.eof || body.calls != 2 {
		t.Errorf("body = %q, eof = %v, calls = %d", body.buf.String(), body.eof, body.calls)
	}

	st, ok := c.Stream(id)
	if !ok || !st.Closed || st.Status != 200 || st.Err != nil {
		t.Fatalf("Stream() = %+v, %v", st, ok)
	}
	if st.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("header = %v", st.Header)
	}
	if c.OpenStreams() != 0 {
		t.Errorf("OpenStreams() = %d", c.OpenStreams())
	}
}

func TestSt_post(t *testing.T) {
	uri := serveH2(t, func(sc *serverConn) {
		hf := sc.nextHeaders()
		if hf == nil {
			return
		}
		if hf.StreamEnded() {
			t.Errorf("HEADERS of a request with body must not end the stream")
		}

		var reqBody []byte

		for {
			f, err := sc.next()
			if err != nil {
				t.Errorf("read frame: %v", err)
				return
			}
			df, ok := f.(*http2.DataFrame)
			if !ok {
				t.Errorf("expected DATA, got %v", f.Header().Type)
				return
			}
			reqBody = append(reqBody, df.Data()...)
			if df.StreamEnded() {
				break
			}
		}

		sc.writeHeaders(hf.StreamID, false, ":status", "201")
		_ = sc.fr.WriteData(hf.StreamID, true, reqBody)

		sc.waitClose()
	})

	c := newSession(t, uri+"/post")

	calls := 0
	read := func(_ int32, buf []byte) (int, DataFlags, error) {
		calls++
		switch calls {
		case 1:
			return 0, DataFlagNone, nil
		case 2:
			return copy(buf, "abc"), DataFlagNone, nil
		default:
			return copy(buf, "def"), DataFlagEOF, nil
		}
	}

	var body bodySt

	nva := []hpack.HeaderField{
		MakeNv(":method", "POST"),
		MakeNv(":scheme", c.Scheme()),
		MakeNv(":authority", c.Host()),
		MakeNv(":path", c.Path()),
		MakeNv("content-type", "text/plain"),
	}

	id, err := c.SubmitRequest(nva, read, body.write)
	if err != nil {
		t.Fatal(err)
	}

	// the reader defers on the first pass
	if err = c.CoreRun(runCtx(t)); err != nil {
		t.Fatalf("CoreRun() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("read called %d times after one pass", calls)
	}

	if err = c.Run(runCtx(t)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st, _ := c.Stream(id)
	if st.Status != 201 || body.buf.String() != "abcdef" || !body.eof {
		t.Errorf("status = %d, body = %q", st.Status, body.buf.String())
	}
}

func TestSt_continuation(t *testing.T) {
	long := strings.Repeat("a", 40000)

	uri := serveH2(t, func(sc *serverConn) {
		hf := sc.nextHeaders()
		if hf == nil {
			return
		}

		got := ""
		for _, f := range hf.RegularFields() {
			if f.Name == "x-long" {
				got = f.Value
			}
		}
		if got != long {
			t.Errorf("x-long has %d bytes", len(got))
		}

		sc.writeHeaders(hf.StreamID, true, ":status", "204")
		sc.waitClose()
	})

	c := newSession(t, uri)

	id, err := c.SubmitRequest(append(getNva(c, "/"), MakeNv("x-long", long)), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = c.Run(runCtx(t)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st, _ := c.Stream(id); st.Status != 204 || !st.Closed {
		t.Errorf("Stream() = %+v", st)
	}
}

func TestSt_resetAndPing(t *testing.T) {
	uri := serveH2(t, func(sc *serverConn) {
		if err := sc.fr.WritePing(false, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
			t.Errorf("write ping: %v", err)
			return
		}

		var streamID uint32
		pingAcked := false

		for streamID == 0 || !pingAcked {
			f, err := sc.next()
			if err != nil {
				t.Errorf("read frame: %v", err)
				return
			}
			switch f := f.(type) {
			case *http2.MetaHeadersFrame:
				streamID = f.StreamID
			case *http2.PingFrame:
				pingAcked = f.IsAck() && f.Data == [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
			}
		}

		_ = sc.fr.WriteRSTStream(streamID, http2.ErrCodeRefusedStream)
		sc.waitClose()
	})

	c := newSession(t, uri)

	id, err := c.SubmitRequest(getNva(c, "/"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = c.Run(runCtx(t)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st, _ := c.Stream(id)
	if !st.Closed || st.ResetCode != http2.ErrCodeRefusedStream || st.Err == nil {
		t.Errorf("Stream() = %+v", st)
	}
}

func TestSt_goAway(t *testing.T) {
	uri := serveH2(t, func(sc *serverConn) {
		first := sc.nextHeaders()
		second := sc.nextHeaders()
		if first == nil || second == nil {
			return
		}

		_ = sc.fr.WriteGoAway(first.StreamID, http2.ErrCodeNo, nil)
		sc.writeHeaders(first.StreamID, true, ":status", "200")

		sc.waitClose()
	})

	c := newSession(t, uri)

	id1, err := c.SubmitRequest(getNva(c, "/1"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := c.SubmitRequest(getNva(c, "/2"), nil, nil)
	if err != nil || id2 != id1+2 {
		t.Fatalf("second SubmitRequest() = %d, %v", id2, err)
	}

	if err = c.Run(runCtx(t)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st, _ := c.Stream(id1); st.Status != 200 || st.Err != nil {
		t.Errorf("first stream = %+v", st)
	}
	if st, _ := c.Stream(id2); !st.Closed || st.Err == nil {
		t.Errorf("second stream = %+v", st)
	}

	if _, err = c.SubmitRequest(getNva(c, "/3"), nil, nil); errs.Code(err) != errs.CodeFail {
		t.Errorf("SubmitRequest() after GOAWAY error = %v", err)
	}
}

// sendBody writes body as DATA frames within the windows the client grants.
func (sc *serverConn) sendBody(streamID uint32, body []byte) {
	connWindow, streamWindow := int64(defaultInitialWindowSize), int64(defaultInitialWindowSize)

	for len(body) > 0 {
		for connWindow <= 0 || streamWindow <= 0 {
			f, err := sc.fr.ReadFrame()
			if err != nil {
				sc.t.Errorf("read frame: %v", err)
				return
			}
			if wu, ok := f.(*http2.WindowUpdateFrame); ok {
				switch wu.StreamID {
				case 0:
					connWindow += int64(wu.Increment)
				case streamID:
					streamWindow += int64(wu.Increment)
				}
			}
		}

		n := min(int64(len(body)), connWindow, streamWindow, defaultMaxFrameSize)
		if err := sc.fr.WriteData(streamID, int(n) == len(body), body[:n]); err != nil {
			sc.t.Errorf("write data: %v", err)
			return
		}

		body = body[n:]
		connWindow -= n
		streamWindow -= n
	}
}

func TestSt_flowControl(t *testing.T) {
	reqBody := bytes.Repeat([]byte("0123456789"), 10000)
	respBody := bytes.Repeat([]byte("abcdefgh"), 25000)

	uri := serveH2(t, func(sc *serverConn) {
		hf := sc.nextHeaders()
		if hf == nil {
			return
		}

		var (
			got           []byte
			ended         bool
			connAllowed   = int64(defaultInitialWindowSize)
			streamAllowed = int64(defaultInitialWindowSize)
		)

		recv := func(until int) bool {
			for len(got) < until {
				f, err := sc.next()
				if err != nil {
					t.Errorf("read frame: %v", err)
					return false
				}
				df, ok := f.(*http2.DataFrame)
				if !ok {
					t.Errorf("expected DATA, got %v", f.Header().Type)
					return false
				}
				got = append(got, df.Data()...)
				ended = df.StreamEnded()
				if n := int64(len(got)); n > connAllowed || n > streamAllowed {
					t.Errorf("client sent %d bytes, windows allow conn %d stream %d", n, connAllowed, streamAllowed)
					return false
				}
			}
			return true
		}

		// both windows are used up by the first 65535 bytes
		if !recv(defaultInitialWindowSize) {
			return
		}

		// a larger initial window opens 10000 bytes on the open stream
		_ = sc.fr.WriteSettings(http2.Setting{ID: http2.SettingInitialWindowSize, Val: defaultInitialWindowSize + 10000})
		streamAllowed += 10000
		_ = sc.fr.WriteWindowUpdate(0, 40000)
		connAllowed += 40000

		if !recv(defaultInitialWindowSize + 10000) {
			return
		}

		_ = sc.fr.WriteWindowUpdate(hf.StreamID, 30000)
		streamAllowed += 30000

		if !recv(len(reqBody)) {
			return
		}
		if !ended || !bytes.Equal(got, reqBody) {
			t.Errorf("request body: %d bytes, ended = %v", len(got), ended)
		}

		sc.writeHeaders(hf.StreamID, false, ":status", "200")
		sc.sendBody(hf.StreamID, respBody)

		sc.waitClose()
	})

	c := newSession(t, uri+"/upload")

	rest := reqBody
	read := func(_ int32, buf []byte) (int, DataFlags, error) {
		n := copy(buf, rest)
		rest = rest[n:]
		if len(rest) == 0 {
			return n, DataFlagEOF, nil
		}
		return n, DataFlagNone, nil
	}

	var body bodySt

	nva := []hpack.HeaderField{
		MakeNv(":method", "POST"),
		MakeNv(":scheme", c.Scheme()),
		MakeNv(":authority", c.Host()),
		MakeNv(":path", c.Path()),
		MakeNv("content-length", "100000"),
	}

	id, err := c.SubmitRequest(nva, read, body.write)
	if err != nil {
		t.Fatal(err)
	}

	if err = c.Run(runCtx(t)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st, _ := c.Stream(id)
	if st.Status != 200 || st.Err != nil {
		t.Fatalf("Stream() = %+v", st)
	}
	if !body.eof || !bytes.Equal(body.buf.Bytes(), respBody) {
		t.Errorf("response body: %d bytes, eof = %v", body.buf.Len(), body.eof)
	}
}

func TestSt_protocolError(t *testing.T) {
	goAway := make(chan http2.ErrCode, 1)

	uri := serveH2(t, func(sc *serverConn) {
		hf := sc.nextHeaders()
		if hf == nil {
			return
		}

		err := sc.fr.WritePushPromise(http2.PushPromiseParam{
			StreamID:   hf.StreamID,
			PromiseID:  2,
			EndHeaders: true,
		})
		if err != nil {
			t.Errorf("write push promise: %v", err)
			return
		}

		for {
			f, err := sc.fr.ReadFrame()
			if err != nil {
				return
			}
			if ga, ok := f.(*http2.GoAwayFrame); ok {
				goAway <- ga.ErrCode
				return
			}
		}
	})

	c := newSession(t, uri)

	if _, err := c.SubmitRequest(getNva(c, "/"), nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := c.Run(runCtx(t)); errs.Code(err) != errs.CodeFail {
		t.Fatalf("Run() error = %v, want FAIL", err)
	}

	select {
	case code := <-goAway:
		if code != http2.ErrCodeProtocol {
			t.Errorf("GOAWAY code = %v, want PROTOCOL_ERROR", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no GOAWAY after protocol error")
	}
}

func TestSt_peerClose(t *testing.T) {
	uri := serveH2(t, func(sc *serverConn) {
		sc.nextHeaders()
	})

	c := newSession(t, uri)

	id, err := c.SubmitRequest(getNva(c, "/"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = c.Run(runCtx(t))
	if errs.Code(err) != errs.CodeFail {
		t.Fatalf("Run() error = %v, want FAIL", err)
	}

	if st, _ := c.Stream(id); !st.Closed || st.Err == nil {
		t.Errorf("Stream() = %+v", st)
	}
	if err2 := c.CoreRun(runCtx(t)); !errors.Is(err2, errs.Fail) {
		t.Errorf("CoreRun() after failure = %v", err2)
	}
	if _, err2 := c.SubmitRequest(getNva(c, "/"), nil, nil); err2 == nil {
		t.Errorf("SubmitRequest() after failure succeeded")
	}
}

func TestSt_SubmitRequest_params(t *testing.T) {
	var nilSession *St
	if _, err := nilSession.SubmitRequest([]hpack.HeaderField{MakeNv(":method", "GET")}, nil, nil); !errors.Is(err, errs.Param) {
		t.Errorf("nil session error = %v", err)
	}

	uri := serveH2(t, func(sc *serverConn) { sc.waitClose() })
	c := newSession(t, uri)

	tests := []struct {
		name string
		nva  []hpack.HeaderField
	}{
		{name: "empty", nva: nil},
		{name: "no path", nva: []hpack.HeaderField{MakeNv(":method", "GET")}},
		{name: "upper case", nva: append(getNva(c, "/"), hpack.HeaderField{Name: "X-Upper", Value: "v"})},
		{name: "bad value", nva: append(getNva(c, "/"), MakeNv("x-bad", "a\nb"))},
		{name: "pseudo after regular", nva: append(getNva(c, "/"), MakeNv(":method", "GET"))},
		{name: "unknown pseudo", nva: append([]hpack.HeaderField{MakeNv(":foo", "x")}, getNva(c, "/")...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if id, err := c.SubmitRequest(tt.nva, nil, nil); !errors.Is(err, errs.Param) || id != -1 {
				t.Errorf("SubmitRequest() = %d, %v", id, err)
			}
		})
	}

	// nothing is pending, so one pass returns at once
	start := time.Now()
	if err := c.CoreRun(context.Background()); err != nil {
		t.Errorf("CoreRun() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("CoreRun() blocked")
	}
}

func TestSt_Deinit(t *testing.T) {
	var c *St
	if err := c.Deinit(); err != nil {
		t.Errorf("Deinit() on nil = %v", err)
	}
	if err := c.CoreRun(context.Background()); !errors.Is(err, errs.Param) {
		t.Errorf("CoreRun() on nil = %v", err)
	}

	uri := serveH2(t, func(sc *serverConn) { sc.waitClose() })

	c, err := Init(context.Background(), uri, "", nil, transport.DialOptionsSt{})
	if err != nil {
		t.Fatal(err)
	}
	if err = c.Deinit(); err != nil {
		t.Errorf("Deinit() = %v", err)
	}
	if err = c.Deinit(); err != nil {
		t.Errorf("second Deinit() = %v", err)
	}
	if err = c.CoreRun(context.Background()); !errors.Is(err, errs.NotConnected) {
		t.Errorf("CoreRun() after Deinit() = %v", err)
	}
}

func TestSt_tls(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.Copy(w, r.Body)
			return
		}
		_, _ = io.WriteString(w, r.Proto)
	}))
	ts.EnableHTTP2 = true
	ts.StartTLS()
	defer ts.Close()

	c := newSession(t, ts.URL)

	var getBody, postBody bodySt

	getID, err := c.SubmitRequest(getNva(c, "/"), nil, getBody.write)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("posted over h2")
	sent := false
	read := func(_ int32, buf []byte) (int, DataFlags, error) {
		if sent {
			return 0, DataFlagEOF, nil
		}
		sent = true
		return copy(buf, payload), DataFlagEOF, nil
	}

	postID, err := c.SubmitRequest([]hpack.HeaderField{
		MakeNv(":method", "POST"),
		MakeNv(":scheme", "https"),
		MakeNv(":authority", c.Host()),
		MakeNv(":path", "/post"),
	}, read, postBody.write)
	if err != nil {
		t.Fatal(err)
	}

	if err = c.Run(runCtx(t)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st, _ := c.Stream(getID); st.Status != 200 || getBody.buf.String() != "HTTP/2.0" {
		t.Errorf("GET status = %d, body = %q", st.Status, getBody.buf.String())
	}
	if st, _ := c.Stream(postID); st.Status != 200 || postBody.buf.String() != string(payload) {
		t.Errorf("POST status = %d, body = %q", st.Status, postBody.buf.String())
	}
}

func TestInit_noH2(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	_, err := Init(context.Background(), ts.URL, "", nil, transport.DialOptionsSt{})
	if errs.Code(err) != errs.CodeFail {
		t.Errorf("Init() error = %v, want FAIL", err)
	}

	_, err = Init(context.Background(), "ftp://example.com", "", nil, transport.DialOptionsSt{})
	if !errors.Is(err, errs.Param) {
		t.Errorf("Init() with bad uri error = %v", err)
	}
}
