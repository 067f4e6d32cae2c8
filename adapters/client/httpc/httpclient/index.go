package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
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

// fields the client sets itself
var ownHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Proxy-Connection":  true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

type St struct {
	lg   logger.Lite
	opts httpc.OptionsSt

	resolver transport.Resolver
	journal  journal.Journal
}

func New(lg logger.Lite, opts httpc.OptionsSt) *St {
	if opts.BaseUrl != "" {
		opts.BaseUrl = strings.TrimRight(opts.BaseUrl, "/") + "/"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = httpc.DefaultUserAgent
	}

	return &St{
		lg:      logger.OrNop(lg),
		opts:    opts,
		journal: journal.None{},
	}
}

func (c *St) SetResolver(r transport.Resolver) {
	c.resolver = r
}

func (c *St) SetJournal(j journal.Journal) {
	if j == nil {
		j = journal.None{}
	}
	c.journal = j
}

func (c *St) GetOptions() httpc.OptionsSt {
	return c.opts
}

// Do sends the request, retrying failed attempts. On a bad status code the
// response is returned together with the error.
func (c *St) Do(reqBody []byte, opts httpc.OptionsSt) (*httpc.ResponseSt, error) {
	opts = c.opts.GetMergedWith(opts)

	origLogFlags := opts.LogFlags

	var err error
	var rep *httpc.ResponseSt

	for i := opts.RetryCount; i >= 0; i-- {
		if i == 0 {
			opts.LogFlags = origLogFlags
		} else {
			opts.LogFlags = origLogFlags | httpc.NoLogError
		}

		rep, err = c.send(reqBody, opts)
		if err != nil {
			if i > 0 && opts.RetryInterval > 0 {
				time.Sleep(opts.RetryInterval)
			}
			continue
		}

		return rep, nil
	}

	return rep, err
}

func (c *St) Send(reqBody []byte, opts httpc.OptionsSt) ([]byte, error) {
	rep, err := c.Do(reqBody, opts)
	if err != nil {
		return nil, err
	}

	return rep.Body, nil
}

func (c *St) send(reqBody []byte, opts httpc.OptionsSt) (*httpc.ResponseSt, error) {
	var err error

	uri := c.buildUri(opts)

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	logPrefix := opts.BaseLogPrefix + opts.LogPrefix
	logError := opts.LogFlags&httpc.NoLogError <= 0

	if opts.LogFlags&httpc.LogRequest > 0 {
		c.lg.Infow(logPrefix+"request: /"+opts.Path,
			"uri", uri,
			"method", method,
			"body", string(reqBody),
		)
	}

	ctx := context.Background()

	timeout := opts.Timeout
	if timeout <= 0 && opts.Version == httpc.Ver20 {
		timeout = httpc.DefaultRunTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	header := c.buildHeader(opts)

	entry := journal.EntrySt{
		Proto:     protoName(opts.Version),
		Method:    method,
		Uri:       uri,
		BytesSent: int64(len(reqBody)),
	}
	startedAt := time.Now()

	var rep *httpc.ResponseSt

	defer func() {
		entry.Duration = time.Since(startedAt)
		if rep != nil {
			entry.Status = rep.StatusCode
			entry.BytesReceived = int64(len(rep.Body))
		}
		if err != nil {
			entry.Error = err.Error()
		}
		if jErr := c.journal.Record(context.Background(), entry); jErr != nil {
			c.lg.Warnw(logPrefix+"Fail to record exchange", "error", jErr)
		}
	}()

	if opts.Version == httpc.Ver20 {
		rep, err = c.doH2(ctx, uri, method, header, reqBody, opts)
	} else {
		rep, err = c.doH1(ctx, uri, method, header, reqBody, opts)
	}
	if err != nil {
		if logError {
			c.lg.Errorw(
				logPrefix+"Fail to send http-request", err,
				"uri", uri,
				"req_body", string(reqBody),
			)
		}
		return nil, err
	}

	if rep.StatusCode < 200 || rep.StatusCode > 299 {
		if rep.StatusCode == 401 || rep.StatusCode == 403 {
			if logError && opts.LogFlags&httpc.NoLogNotAuthorized <= 0 {
				c.lg.Errorw(
					logPrefix+"Bad status code", nil,
					"status_code", rep.StatusCode,
					"rep_body", string(rep.Body),
					"uri", uri,
					"req_body", string(reqBody),
				)
			}
			err = errs.NotAuthorized
			return rep, err
		}
		if logError && opts.LogFlags&httpc.NoLogBadStatus <= 0 {
			c.lg.Errorw(
				logPrefix+"Bad status code", nil,
				"status_code", rep.StatusCode,
				"rep_body", string(rep.Body),
				"uri", uri,
				"req_body", string(reqBody),
			)
		}
		err = errs.BadStatusCode
		return rep, err
	}

	if opts.LogFlags&httpc.LogResponse > 0 {
		c.lg.Infow(logPrefix+"response: /"+opts.Path,
			"uri", uri,
			"status_code", rep.StatusCode,
			"body", string(rep.Body),
		)
	}

	return rep, nil
}

func (c *St) buildUri(opts httpc.OptionsSt) string {
	uri := opts.Path
	if opts.BaseUrl != "" {
		uri = opts.BaseUrl + strings.TrimLeft(opts.Path, "/")
	}

	if len(opts.BaseParams) > 0 || len(opts.Params) > 0 {
		qPars := url.Values{}
		for k, v := range opts.BaseParams {
			qPars[k] = v
		}
		for k, v := range opts.Params {
			qPars[k] = v
		}
		if strings.Contains(uri, "?") {
			uri += "&" + qPars.Encode()
		} else {
			uri += "?" + qPars.Encode()
		}
	}

	return uri
}

func (c *St) buildHeader(opts httpc.OptionsSt) http.Header {
	header := http.Header{}

	for k, v := range opts.BaseHeaders {
		header[http.CanonicalHeaderKey(k)] = v
	}
	for k, v := range opts.Headers {
		header[http.CanonicalHeaderKey(k)] = v
	}

	if header.Get("User-Agent") == "" && opts.UserAgent != "" {
		header.Set("User-Agent", opts.UserAgent)
	}

	if opts.BasicAuthCreds != nil {
		creds := opts.BasicAuthCreds.Username + ":" + opts.BasicAuthCreds.Password
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
	}

	return header
}

func (c *St) dialOptions(opts httpc.OptionsSt) transport.DialOptionsSt {
	return transport.DialOptionsSt{
		Lg:       c.lg,
		Resolver: c.resolver,
		Timeout:  opts.Timeout,
	}
}

func (c *St) doH1(ctx context.Context, uri, method string, header http.Header, reqBody []byte, opts httpc.OptionsSt) (*httpc.ResponseSt, error) {
	nodeSize := opts.HeaderBufSize
	if nodeSize <= 0 {
		nodeSize = httpc.DefaultHeaderBufSize
	}

	cl, err := h1.Init(ctx, uri, "", httpc.NewMemNode(nodeSize), httpc.Ver11, opts.TLS, c.dialOptions(opts))
	if err != nil {
		return nil, err
	}
	defer cl.Deinit()

	if _, err = cl.RequestLine(method); err != nil {
		return nil, err
	}

	for _, k := range sortedKeys(header) {
		if ownHeaders[k] {
			continue
		}
		for _, v := range header[k] {
			if _, err = cl.SetField(k, v); err != nil {
				return nil, err
			}
		}
	}

	if len(reqBody) > 0 || methodWithBody(method) {
		if _, err = cl.SetField("Content-Length", strconv.Itoa(len(reqBody))); err != nil {
			return nil, err
		}
	}

	if _, err = cl.SetField("Connection", "close"); err != nil {
		return nil, err
	}

	if _, err = cl.EndHeader(); err != nil {
		return nil, err
	}

	if err = cl.SendRequest(reqBody); err != nil {
		return nil, err
	}

	var body bytes.Buffer

	if _, err = cl.ReadBody(&body); err != nil {
		return nil, err
	}

	return &httpc.ResponseSt{
		StatusCode: cl.ResponseCode(),
		Proto:      protoName(httpc.Ver11),
		Header:     cl.Header(),
		Body:       body.Bytes(),
	}, nil
}

func (c *St) doH2(ctx context.Context, uri, method string, header http.Header, reqBody []byte, opts httpc.OptionsSt) (*httpc.ResponseSt, error) {
	cl, err := h2.Init(ctx, uri, "", opts.TLS, c.dialOptions(opts))
	if err != nil {
		return nil, err
	}
	defer cl.Deinit()

	nva := []hpack.HeaderField{
		h2.MakeNv(":method", method),
		h2.MakeNv(":path", cl.Path()),
		h2.MakeNv(":scheme", cl.Scheme()),
		h2.MakeNv(":authority", cl.Host()),
	}

	for _, k := range sortedKeys(header) {
		if ownHeaders[k] {
			continue
		}
		for _, v := range header[k] {
			nva = append(nva, h2.MakeNv(k, v))
		}
	}

	var read h2.ReadFromUser

	if len(reqBody) > 0 || methodWithBody(method) {
		nva = append(nva, h2.MakeNv("content-length", strconv.Itoa(len(reqBody))))
	}
	if len(reqBody) > 0 {
		rest := reqBody
		read = func(_ int32, buf []byte) (int, h2.DataFlags, error) {
			n := copy(buf, rest)
			rest = rest[n:]
			if len(rest) == 0 {
				return n, h2.DataFlagEOF, nil
			}
			return n, h2.DataFlagNone, nil
		}
	}

	var body bytes.Buffer

	write := func(_ int32, data []byte, _ h2.DataFlags) error {
		body.Write(data)
		return nil
	}

	id, err := cl.SubmitRequest(nva, read, write)
	if err != nil {
		return nil, err
	}

	if err = cl.Run(ctx); err != nil {
		return nil, err
	}

	st, ok := cl.Stream(id)
	if !ok {
		return nil, errs.Desc(errs.Fail, "stream lost")
	}
	if st.Err != nil {
		return nil, errs.Desc(errs.Fail, st.Err.Error())
	}
	if st.Status == 0 {
		return nil, errs.Desc(errs.Fail, "stream closed without response")
	}

	return &httpc.ResponseSt{
		StatusCode: st.Status,
		Proto:      protoName(httpc.Ver20),
		Header:     st.Header,
		Body:       body.Bytes(),
	}, nil
}

func (c *St) SendJson(reqObj any, opts httpc.OptionsSt) ([]byte, error) {
	if opts.Headers == nil {
		opts.Headers = http.Header{}
	}

	opts.Headers["Content-Type"] = []string{"application/json"}

	reqBody, err := json.Marshal(reqObj)
	if err != nil {
		if opts.LogFlags&httpc.NoLogError <= 0 {
			c.lg.Errorw(opts.LogPrefix+"Fail to marshal json", err)
		}
		return nil, err
	}

	return c.Send(reqBody, opts)
}

func (c *St) SendRecvJson(reqBody []byte, repObj any, opts httpc.OptionsSt) ([]byte, error) {
	if opts.Headers == nil {
		opts.Headers = http.Header{}
	}

	opts.Headers["Accept"] = []string{"application/json"}

	repBody, err := c.Send(reqBody, opts)
	if err != nil {
		return nil, err
	}

	if len(repBody) > 0 && repObj != nil {
		err = json.Unmarshal(repBody, repObj)
		if err != nil {
			if opts.LogFlags&httpc.NoLogError <= 0 {
				c.lg.Errorw(
					opts.LogPrefix+"Fail to unmarshal body", err,
					"path", opts.Path,
					"req_body", string(reqBody),
					"rep_body", string(repBody),
				)
			}
			return nil, err
		}
	}

	return repBody, nil
}

func (c *St) SendJsonRecvJson(reqObj, repObj any, opts httpc.OptionsSt) ([]byte, error) {
	if opts.Headers == nil {
		opts.Headers = http.Header{}
	}

	opts.Headers["Content-Type"] = []string{"application/json"}

	reqBody, err := json.Marshal(reqObj)
	if err != nil {
		if opts.LogFlags&httpc.NoLogError <= 0 {
			c.lg.Errorw(opts.LogPrefix+"Fail to marshal json", err)
		}
		return nil, err
	}

	return c.SendRecvJson(reqBody, repObj, opts)
}

func sortedKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func methodWithBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func protoName(v httpc.Version) string {
	if v == httpc.Ver20 {
		return "HTTP/2.0"
	}
	return "HTTP/1.1"
}
