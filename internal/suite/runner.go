package suite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"golang.org/x/net/http2/hpack"

	"github.com/rendau/httpc/adapters/client/httpc"
	"github.com/rendau/httpc/adapters/client/httpc/h1"
	"github.com/rendau/httpc/adapters/client/httpc/h2"
	"github.com/rendau/httpc/adapters/client/httpc/transport"
	"github.com/rendau/httpc/adapters/journal"
	"github.com/rendau/httpc/adapters/logger"
	"github.com/rendau/httpc/errs"
)

type OptionsSt struct {
	Lg       logger.Lite
	Resolver transport.Resolver
	Journal  journal.Journal
	TLS      *httpc.TLSInfoSt

	HeaderBufSize int
	RecvBufSize   int
	SocketTimeout time.Duration
	RunTimeout    time.Duration
	UserAgent     string
}

// St runs requests one by one over the low-level clients.
type St struct {
	lg   logger.Lite
	opts OptionsSt
}

func New(opts OptionsSt) *St {
	if opts.Journal == nil {
		opts.Journal = journal.None{}
	}
	if opts.HeaderBufSize <= 0 {
		opts.HeaderBufSize = httpc.DefaultHeaderBufSize
	}
	if opts.RecvBufSize <= 0 {
		opts.RecvBufSize = httpc.DefaultRecvBufSize
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = httpc.DefaultRunTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = httpc.DefaultUserAgent
	}

	return &St{
		lg:   logger.OrNop(opts.Lg),
		opts: opts,
	}
}

// Run executes reqs in order. Once ctx is done the remaining requests
// fail without being sent.
func (s *St) Run(ctx context.Context, reqs []RequestSt) []ResultSt {
	results := make([]ResultSt, 0, len(reqs))

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			results = append(results, ResultSt{Name: req.Name, Err: errs.Desc(errs.Fail, err.Error())})
			continue
		}

		results = append(results, s.RunOne(ctx, req))
	}

	return results
}

func (s *St) RunOne(ctx context.Context, req RequestSt) ResultSt {
	req = sanitizeRequest(req)

	startedAt := time.Now()

	var result ResultSt

	ver, err := ParseVersion(req.Version)
	if err == nil {
		err = validateRequest(req)
	}
	if err == nil {
		if ver == httpc.Ver20 {
			result, err = s.runH2(ctx, req)
		} else {
			result, err = s.runH1(ctx, req)
		}
	}

	result.Name = req.Name
	result.Output = req.Output
	result.Duration = time.Since(startedAt)
	result.Err = err

	if result.Proto == "" {
		result.Proto = protoName(ver)
	}

	if err != nil {
		s.lg.Errorw("request fail", err, "name", req.Name, "url", req.Url)
	} else {
		s.lg.Infow("request done",
			"name", req.Name,
			"proto", result.Proto,
			"status", result.Status,
			"received", result.Received,
			"duration", result.Duration,
		)
	}

	entry := journal.EntrySt{
		Name:          req.Name,
		Proto:         result.Proto,
		Method:        req.Method,
		Uri:           req.Url,
		Status:        result.Status,
		BytesSent:     int64(len(req.Body)),
		BytesReceived: result.Received,
		Duration:      result.Duration,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if jErr := s.opts.Journal.Record(context.WithoutCancel(ctx), entry); jErr != nil {
		s.lg.Warnw("journal record fail", "name", req.Name, "error", jErr)
	}

	return result
}

func (s *St) dialOptions() transport.DialOptionsSt {
	return transport.DialOptionsSt{
		Lg:       s.lg,
		Resolver: s.opts.Resolver,
		Timeout:  s.opts.SocketTimeout,
	}
}

func (s *St) runH1(ctx context.Context, req RequestSt) (ResultSt, error) {
	result := ResultSt{Proto: protoName(httpc.Ver11)}

	node := httpc.NewMemNode(s.opts.HeaderBufSize)

	cl, err := h1.Init(ctx, req.Url, req.Port, node, httpc.Ver11, s.opts.TLS, s.dialOptions())
	if err != nil {
		return result, err
	}
	defer cl.Deinit()

	var rangeValue string

	if req.Range != nil {
		if rangeValue, err = req.Range.HeaderValue(); err != nil {
			return result, err
		}

		// the server has to announce range support on a plain GET first
		if err = s.writeH1Header(cl, http.MethodGet, req.Headers, "", 0); err != nil {
			return result, err
		}
		if err = cl.SendRequest(nil); err != nil {
			return result, err
		}
		if !cl.ProbeRange() {
			s.lg.Warnw("not support range request", "url", req.Url)
			return result, errs.Desc(errs.Fail, "server does not accept byte ranges")
		}
		if err = cl.Reset(); err != nil {
			return result, err
		}
	}

	if err = s.writeH1Header(cl, req.Method, req.Headers, rangeValue, len(req.Body)); err != nil {
		return result, err
	}

	var body []byte
	if req.Body != "" {
		body = []byte(req.Body)
	}

	if err = cl.SendRequest(body); err != nil {
		return result, err
	}

	result.Status = cl.ResponseCode()
	result.Header = cl.Header()

	err = s.receive(&result, req.Output, func(w io.Writer) (int64, error) {
		return s.readH1Body(cl, w)
	})

	return result, err
}

func (s *St) writeH1Header(cl *h1.St, method string, headers map[string]string, rangeValue string, bodyLen int) error {
	if _, err := cl.RequestLine(method); err != nil {
		return err
	}

	fields := s.fields(headers)

	if rangeValue != "" {
		fields = append(fields, [2]string{"Range", rangeValue})
	}
	if bodyLen > 0 || method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		fields = append(fields, [2]string{"Content-Length", strconv.Itoa(bodyLen)})
	}

	for _, f := range fields {
		if _, err := cl.SetField(f[0], f[1]); err != nil {
			return err
		}
	}

	_, err := cl.EndHeader()

	return err
}

// readH1Body pulls the body with RecvResponse, one chunk per call for
// chunked responses.
func (s *St) readH1Body(cl *h1.St, w io.Writer) (int64, error) {
	mode := httpc.ModeNormal
	if cl.Chunked() {
		mode = httpc.ModeChunk
	}

	buf := make([]byte, s.opts.RecvBufSize)

	var total int64

	for {
		n, err := cl.RecvResponse(mode, buf)
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

func (s *St) runH2(ctx context.Context, req RequestSt) (ResultSt, error) {
	result := ResultSt{Proto: protoName(httpc.Ver20)}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	cl, err := h2.Init(ctx, req.Url, req.Port, s.opts.TLS, s.dialOptions())
	if err != nil {
		return result, err
	}
	defer cl.Deinit()

	nva := []hpack.HeaderField{
		h2.MakeNv(":method", req.Method),
		h2.MakeNv(":path", cl.Path()),
		h2.MakeNv(":scheme", cl.Scheme()),
		h2.MakeNv(":authority", cl.Host()),
	}

	for _, f := range s.fields(req.Headers) {
		nva = append(nva, h2.MakeNv(f[0], f[1]))
	}

	if req.Range != nil {
		rangeValue, err := req.Range.HeaderValue()
		if err != nil {
			return result, err
		}
		nva = append(nva, h2.MakeNv("range", rangeValue))
	}

	var read h2.ReadFromUser

	if req.Body != "" {
		nva = append(nva, h2.MakeNv("content-length", strconv.Itoa(len(req.Body))))

		rest := []byte(req.Body)
		read = func(_ int32, buf []byte) (int, h2.DataFlags, error) {
			n := copy(buf, rest)
			rest = rest[n:]
			if len(rest) == 0 {
				return n, h2.DataFlagEOF, nil
			}
			return n, h2.DataFlagNone, nil
		}
	}

	err = s.receive(&result, req.Output, func(w io.Writer) (int64, error) {
		var total int64

		write := func(_ int32, data []byte, _ h2.DataFlags) error {
			n, wErr := w.Write(data)
			total += int64(n)
			return wErr
		}

		id, err := cl.SubmitRequest(nva, read, write)
		if err != nil {
			return 0, err
		}

		if err = cl.Run(ctx); err != nil {
			return total, err
		}

		st, ok := cl.Stream(id)
		if !ok {
			return total, errs.Desc(errs.Fail, "stream lost")
		}

		result.Status = st.Status
		result.Header = st.Header

		if st.Err != nil {
			return total, errs.Desc(errs.Fail, st.Err.Error())
		}

		return total, nil
	})

	return result, err
}

// receive sends the body to the output file when one is set, otherwise
// keeps it in the result.
func (s *St) receive(result *ResultSt, output string, read func(w io.Writer) (int64, error)) error {
	if output == "" {
		var buf bytes.Buffer

		n, err := read(&buf)
		result.Received = n
		result.Body = buf.Bytes()

		return err
	}

	if dir := filepath.Dir(output); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}

	s.lg.Infow("start download", "output", output)

	n, err := read(f)
	result.Received = n

	if cErr := f.Close(); cErr != nil && err == nil {
		err = fmt.Errorf("close output: %w", cErr)
	}

	if err == nil {
		s.lg.Infow("download done", "output", output, "bytes", n)
	}

	return err
}

// fields returns the request fields in a stable order, adding Accept and
// User-Agent unless given.
func (s *St) fields(headers map[string]string) [][2]string {
	res := make([][2]string, 0, len(headers)+2)

	canonical := make(map[string]string, len(headers))
	for k, v := range headers {
		canonical[http.CanonicalHeaderKey(k)] = v
	}

	if _, ok := canonical["Accept"]; !ok {
		canonical["Accept"] = "*/*"
	}
	if _, ok := canonical["User-Agent"]; !ok {
		canonical["User-Agent"] = s.opts.UserAgent
	}

	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		switch k {
		case "Host", "Content-Length", "Connection", "Transfer-Encoding", "Range":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		res = append(res, [2]string{k, canonical[k]})
	}

	return res
}

func protoName(v httpc.Version) string {
	if v == httpc.Ver20 {
		return "HTTP/2.0"
	}
	return "HTTP/1.1"
}
