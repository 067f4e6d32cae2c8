package mock

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rendau/httpc/adapters/client/httpc"
	"github.com/rendau/httpc/adapters/logger"
	"github.com/rendau/httpc/errs"
)

const (
	ErrPageNotFound = errs.Err("page_not_found")
)

// St is an httpc.HttpC that records requests and answers with canned
// responses keyed by path.
type St struct {
	lg logger.Lite

	requests  []*RequestSt
	responses map[string]ResponseSt
	mu        sync.Mutex
}

type RequestSt struct {
	Opts httpc.OptionsSt
	Raw  []byte
}

type ResponseSt struct {
	Obj        any
	Raw        []byte
	StatusCode int // 0 means 200
	Header     http.Header
}

func New(lg logger.Lite) *St {
	return &St{
		lg: logger.OrNop(lg),

		requests:  []*RequestSt{},
		responses: map[string]ResponseSt{},
	}
}

func (c *St) SetResponses(responses map[string]ResponseSt) {
	c.mu.Lock()
	c.responses = map[string]ResponseSt{}
	c.mu.Unlock()

	for k, v := range responses {
		c.SetResponse(k, v)
	}
}

func (c *St) SetResponse(path string, response ResponseSt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(response.Raw) == 0 && response.Obj != nil {
		var err error

		response.Raw, err = json.Marshal(response.Obj)
		if err != nil {
			c.lg.Errorw("Fail to marshal json", err)
		}
	}

	c.responses[path] = response
}

func (c *St) GetOptions() httpc.OptionsSt {
	return httpc.OptionsSt{}
}

func (c *St) Do(reqBody []byte, opts httpc.OptionsSt) (*httpc.ResponseSt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, &RequestSt{
		Opts: opts,
		Raw:  reqBody,
	})

	response, ok := c.responses[opts.Path]
	if !ok {
		c.lg.Infow("Httpc-mock, path not found", "path", opts.Path)
		return nil, ErrPageNotFound
	}

	rep := &httpc.ResponseSt{
		StatusCode: response.StatusCode,
		Proto:      "HTTP/1.1",
		Header:     response.Header.Clone(),
		Body:       response.Raw,
	}
	if rep.StatusCode == 0 {
		rep.StatusCode = http.StatusOK
	}
	if rep.Header == nil {
		rep.Header = http.Header{}
	}

	switch {
	case rep.StatusCode == 401 || rep.StatusCode == 403:
		return rep, errs.NotAuthorized
	case rep.StatusCode < 200 || rep.StatusCode > 299:
		return rep, errs.BadStatusCode
	}

	return rep, nil
}

func (c *St) Send(reqBody []byte, opts httpc.OptionsSt) ([]byte, error) {
	rep, err := c.Do(reqBody, opts)
	if err != nil {
		return nil, err
	}

	return rep.Body, nil
}

func (c *St) SendJson(reqObj any, opts httpc.OptionsSt) ([]byte, error) {
	if opts.Headers == nil {
		opts.Headers = http.Header{}
	}

	opts.Headers["Content-Type"] = []string{"application/json"}

	reqBody, err := json.Marshal(reqObj)
	if err != nil {
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
		return nil, err
	}

	return c.SendRecvJson(reqBody, repObj, opts)
}

func (c *St) GetRequests() []*RequestSt {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]*RequestSt, len(c.requests))
	copy(result, c.requests)

	return result
}

func (c *St) GetRequest(path string, obj any) (*RequestSt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, req := range c.requests {
		if req.Opts.Path != path {
			continue
		}

		if len(req.Raw) > 0 && obj != nil {
			err := json.Unmarshal(req.Raw, obj)
			if err != nil {
				c.lg.Errorw("Fail to unmarshal json", err)
				return nil, false
			}
		}

		return req, true
	}

	return nil, false
}

func (c *St) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = []*RequestSt{}
	c.responses = map[string]ResponseSt{}
}
