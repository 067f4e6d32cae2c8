package h1

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/rendau/httpc/adapters/client/httpc"
	"github.com/rendau/httpc/adapters/client/httpc/transport"
	"github.com/rendau/httpc/adapters/logger"
	"github.com/rendau/httpc/errs"
)

const maxChunkLineSize = 1024

// St is an HTTP/1.1 connection to one origin. Request headers are built in
// the caller's node and the response header is read back into it.
// It is not safe for concurrent use.
type St struct {
	lg   logger.Lite
	uri  httpc.URISt
	node *httpc.MemNodeSt
	conn *transport.Conn
	r    *bufio.Reader

	method string

	responseCode  int
	contentLength int64 // -1 when the response does not declare one
	chunked       bool

	bodyRead  int64
	chunkLeft int64
	bodyDone  bool
}

func Init(ctx context.Context, uri, port string, node *httpc.MemNodeSt, ver httpc.Version, tlsInfo *httpc.TLSInfoSt, opts transport.DialOptionsSt) (*St, error) {
	if ver != httpc.Ver11 {
		return nil, errs.Desc(errs.Param, "unsupported version "+ver.String())
	}

	u, err := httpc.ParseURI(uri, port)
	if err != nil {
		return nil, err
	}

	opts.Version = ver
	opts.TLS = tlsInfo

	conn, err := transport.Dial(ctx, u, opts)
	if err != nil {
		return nil, err
	}

	return &St{
		lg:            logger.OrNop(opts.Lg),
		uri:           u,
		node:          node,
		conn:          conn,
		r:             bufio.NewReader(conn),
		contentLength: -1,
	}, nil
}

func (c *St) Host() string {
	return c.uri.Host
}

func (c *St) Path() string {
	return c.uri.Path
}

func (c *St) URI() httpc.URISt {
	return c.uri
}

func (c *St) Node() *httpc.MemNodeSt {
	return c.node
}

// HeaderSet appends formatted text to the header node and returns the number
// of bytes written. Nothing is written when the text does not fit.
func (c *St) HeaderSet(format string, args ...any) (int, error) {
	if c == nil || c.node == nil || c.node.Buf == nil {
		return 0, errs.Param
	}

	s := fmt.Sprintf(format, args...)

	if c.node.Used+len(s) > c.node.Len() {
		c.lg.Warnw("header buffer is full", "used", c.node.Used, "need", len(s), "cap", c.node.Len())
		return 0, errs.Desc(errs.Fail, "buffer is full")
	}

	c.node.Used += copy(c.node.Buf[c.node.Used:], s)

	return len(s), nil
}

// RequestLine writes the request line and the Host field.
// The method is kept to tell whether the response may carry a body.
func (c *St) RequestLine(method string) (int, error) {
	if !httpguts.ValidHeaderFieldName(method) {
		return 0, errs.Desc(errs.Param, "bad method "+method)
	}

	n, err := c.HeaderSet("%s %s HTTP/1.1\r\nHost: %s\r\n", method, c.uri.Path, c.uri.Host)
	if err != nil {
		return n, err
	}

	c.method = method

	return n, nil
}

func (c *St) SetField(name, value string) (int, error) {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return 0, errs.Desc(errs.Param, "bad header field "+name)
	}
	return c.HeaderSet("%s: %s\r\n", name, value)
}

// EndHeader terminates the request header.
func (c *St) EndHeader() (int, error) {
	return c.HeaderSet("\r\n")
}

// HeaderGet looks field up in the stored response header, ignoring case.
// A line starting with the field name wins over a match elsewhere in a line.
// The returned value follows the field with one ':' and one space skipped.
func (c *St) HeaderGet(field string) (string, bool) {
	if c == nil || c.node == nil || field == "" {
		return "", false
	}

	needle := []byte(field)
	lines := bytes.Split(c.node.Bytes(), []byte{'\n'})

	pos := -1
	var found []byte

	for _, line := range lines {
		i := indexFold(line, needle)
		if i < 0 {
			continue
		}
		if i == 0 {
			pos, found = 0, line
			break
		}
		if pos < 0 {
			pos, found = i, line
		}
	}

	if pos < 0 {
		c.lg.Debugw("header field not found", "field", field)
		return "", false
	}

	v := found[pos+len(needle):]
	if len(v) > 0 && v[0] == ':' {
		v = v[1:]
	}
	if len(v) > 0 && v[0] == ' ' {
		v = v[1:]
	}

	return string(v), true
}

func indexFold(s, sub []byte) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if bytes.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

// Header returns the stored response header fields.
func (c *St) Header() http.Header {
	res := http.Header{}

	if c == nil || c.node == nil {
		return res
	}

	lines := bytes.Split(c.node.Bytes(), []byte{'\n'})
	if len(lines) > 0 {
		lines = lines[1:] // status line
	}

	for _, line := range lines {
		name, value, ok := bytes.Cut(line, []byte{':'})
		if !ok {
			continue
		}
		res.Add(string(bytes.TrimSpace(name)), string(bytes.TrimSpace(value)))
	}

	return res
}

// SendRequest sends the header node and body, then reads the response
// header into the node.
func (c *St) SendRequest(body []byte) error {
	if c == nil || c.node == nil || c.node.Buf == nil {
		return errs.Param
	}

	c.lg.Debugw("http request header", "host", c.uri.Host, "header", string(c.node.Bytes()))

	if _, err := c.conn.Send(c.node.Bytes()); err != nil {
		c.lg.Errorw("http send header fail", err)
		return errs.Desc(errs.Send, err.Error())
	}

	if body != nil {
		if _, err := c.conn.Send(body); err != nil {
			c.lg.Errorw("http send data fail", err)
			return errs.Desc(errs.Send, err.Error())
		}
	}

	if err := c.readResponseHeader(); err != nil {
		c.lg.Errorw("http handle response header fail", err)
		return err
	}

	return nil
}

// readResponseHeader reads the final response header, skipping interim
// 1xx responses other than 101.
func (c *St) readResponseHeader() error {
	for {
		if err := c.readHeaderBlock(); err != nil {
			return err
		}

		code := c.responseCode
		if code/100 != 1 || code == http.StatusSwitchingProtocols {
			return nil
		}

		c.lg.Debugw("http interim response skipped", "code", code)
	}
}

func (c *St) readHeaderBlock() error {
	c.node.Reset()
	c.resetResponse()

	for {
		line, err := c.r.ReadSlice('\n')
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				return errs.Desc(errs.Mem, "header line too long")
			}
			if errors.Is(err, io.EOF) {
				return errs.Desc(errs.Fail, "connection closed before end of header")
			}
			return err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			break
		}

		if c.node.Used+len(line)+1 > c.node.Len() {
			c.lg.Warnw("header buffer is full", "cap", c.node.Len())
			return errs.Desc(errs.Mem, "response header exceeds buffer")
		}

		c.node.Used += copy(c.node.Buf[c.node.Used:], line)
		c.node.Buf[c.node.Used] = '\n'
		c.node.Used++

		c.lg.Debugw("http response header", "line", string(line))
	}

	code, err := parseStatusLine(c.node.Bytes())
	if err != nil {
		c.lg.Warnw("can not find response code")
		return err
	}
	c.responseCode = code

	if v, ok := c.HeaderGet("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return errs.Desc(errs.Fail, "bad content length "+v)
		}
		c.contentLength = n
	}

	if c.contentLength <= 0 {
		if v, ok := c.HeaderGet("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(v), "chunked") {
			c.lg.Infow("chunked mode")
			c.chunked = true
			c.contentLength = -1
		}
	}

	if c.contentLength == 0 || c.method == http.MethodHead ||
		code == http.StatusNoContent || code == http.StatusNotModified || code/100 == 1 {
		c.bodyDone = true
	}

	return nil
}

func parseStatusLine(hdr []byte) (int, error) {
	line, _, _ := bytes.Cut(hdr, []byte{'\n'})

	if !bytes.HasPrefix(line, []byte("HTTP/1.")) {
		return 0, errs.Desc(errs.Fail, "no status line")
	}

	fields := strings.Fields(string(line))
	if len(fields) < 2 || len(fields[1]) != 3 {
		return 0, errs.Desc(errs.Fail, "bad status line "+string(line))
	}

	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, errs.Desc(errs.Fail, "bad status code "+fields[1])
	}

	return code, nil
}

func (c *St) resetResponse() {
	c.responseCode = 0
	c.contentLength = -1
	c.chunked = false
	c.bodyRead = 0
	c.chunkLeft = 0
	c.bodyDone = false
}

func (c *St) ResponseCode() int {
	return c.responseCode
}

// ContentLength is -1 when the response did not declare one.
func (c *St) ContentLength() int64 {
	return c.contentLength
}

func (c *St) Chunked() bool {
	return c.chunked
}

// RecvResponse reads body bytes into buf. It returns io.EOF once the body
// is complete.
func (c *St) RecvResponse(mode httpc.Mode, buf []byte) (int, error) {
	if c == nil || len(buf) == 0 {
		return 0, errs.Param
	}

	switch mode {
	case httpc.ModeNormal:
		if c.chunked {
			return c.recvChunk(buf)
		}
		return c.recvNormal(buf)
	case httpc.ModeChunk:
		if !c.chunked {
			return 0, errs.Desc(errs.Param, "response is not chunked")
		}
		return c.recvChunk(buf)
	default:
		return 0, errs.Desc(errs.Param, "unknown mode "+mode.String())
	}
}

func (c *St) recvNormal(buf []byte) (int, error) {
	if c.bodyDone {
		return 0, io.EOF
	}

	if c.contentLength >= 0 {
		left := c.contentLength - c.bodyRead
		if left <= 0 {
			c.bodyDone = true
			return 0, io.EOF
		}
		if int64(len(buf)) > left {
			buf = buf[:left]
		}
	}

	n, err := c.r.Read(buf)
	c.bodyRead += int64(n)

	if err != nil {
		if !errors.Is(err, io.EOF) {
			return n, err
		}
		if c.contentLength >= 0 && c.bodyRead < c.contentLength {
			return n, errs.Desc(errs.Fail, "connection closed before end of body")
		}
		c.bodyDone = true
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}

	if c.contentLength >= 0 && c.bodyRead >= c.contentLength {
		c.bodyDone = true
	}

	return n, nil
}

func (c *St) recvChunk(buf []byte) (int, error) {
	if c.bodyDone {
		return 0, io.EOF
	}

	if c.chunkLeft == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			c.lg.Errorw("chunk length invalid", err)
			return 0, err
		}

		if size == 0 {
			c.lg.Debugw("no more chunk data")
			if err = c.skipTrailers(); err != nil {
				return 0, err
			}
			c.bodyDone = true
			return 0, io.EOF
		}

		c.chunkLeft = size
	}

	if int64(len(buf)) > c.chunkLeft {
		buf = buf[:c.chunkLeft]
	}

	n, err := io.ReadFull(c.r, buf)
	c.chunkLeft -= int64(n)
	c.bodyRead += int64(n)
	if err != nil {
		c.lg.Errorw("recv chunk data fail", err)
		return n, errs.Desc(errs.Fail, "chunk data: "+err.Error())
	}

	if c.chunkLeft == 0 {
		var crlf [2]byte
		if _, err = io.ReadFull(c.r, crlf[:]); err != nil || crlf != [2]byte{'\r', '\n'} {
			c.lg.Errorw("recv chunk CRLF fail", err)
			return n, errs.Desc(errs.Fail, "missing chunk terminator")
		}
	}

	return n, nil
}

func (c *St) readChunkSize() (int64, error) {
	line, err := c.readLine()
	if err != nil {
		return 0, err
	}

	line, _, _ = strings.Cut(line, ";")
	line = strings.TrimSpace(line)

	size, err := strconv.ParseInt(line, 16, 64)
	if err != nil || size < 0 {
		return 0, errs.Desc(errs.Fail, "bad chunk size "+line)
	}

	return size, nil
}

func (c *St) skipTrailers() error {
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		c.lg.Debugw("chunk trailer", "line", line)
	}
}

func (c *St) readLine() (string, error) {
	var sb strings.Builder

	for {
		part, err := c.r.ReadSlice('\n')
		sb.Write(part)

		if sb.Len() > maxChunkLineSize {
			return "", errs.Desc(errs.Fail, "chunk line too long")
		}

		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return "", errs.Desc(errs.Fail, "connection closed inside chunked body")
		}
		return "", err
	}

	return strings.TrimRight(sb.String(), "\r\n"), nil
}

// ReadBody writes the rest of the body to w, picking the mode from the
// response header.
func (c *St) ReadBody(w io.Writer) (int64, error) {
	if c == nil || w == nil {
		return 0, errs.Param
	}

	mode := httpc.ModeNormal
	if c.chunked {
		mode = httpc.ModeChunk
	}

	buf := make([]byte, httpc.DefaultRecvBufSize)

	var total int64

	for {
		n, err := c.RecvResponse(mode, buf)
		if n > 0 {
			if _, wErr := w.Write(buf[:n]); wErr != nil {
				return total, errs.Desc(errs.Fail, "write body: "+wErr.Error())
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// Reset drains what is left of the current body and clears the node, so a
// follow-up request can be built on the same connection.
func (c *St) Reset() error {
	if c == nil || c.node == nil {
		return errs.Param
	}

	if c.responseCode != 0 && !c.bodyDone {
		if _, err := c.ReadBody(io.Discard); err != nil {
			return err
		}
	}

	c.node.Reset()
	c.resetResponse()
	c.method = ""

	return nil
}

// ProbeRange reports whether the server accepts byte range requests.
func (c *St) ProbeRange() bool {
	v, ok := c.HeaderGet("Accept-Ranges")
	return ok && strings.TrimSpace(v) == "bytes"
}

// Deinit closes the connection. It is safe on nil and may be called twice.
func (c *St) Deinit() error {
	if c == nil {
		return nil
	}
	return c.conn.Close()
}
