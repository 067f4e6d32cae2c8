package suite

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rendau/httpc/adapters/client/httpc"
	"github.com/rendau/httpc/errs"
)

type FileSt struct {
	Requests []RequestSt `yaml:"requests" json:"requests"`
}

type RequestSt struct {
	Name    string            `yaml:"name" json:"name"`
	Url     string            `yaml:"url" json:"url"`
	Port    string            `yaml:"port" json:"port"`
	Method  string            `yaml:"method" json:"method"`
	Version string            `yaml:"version" json:"version"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	Body    string            `yaml:"body" json:"body"`
	Range   *RangeSt          `yaml:"range" json:"range"`
	Output  string            `yaml:"output" json:"output"`
}

// RangeSt is a byte range. A negative bound leaves that side open.
type RangeSt struct {
	Start int64 `yaml:"start" json:"start"`
	End   int64 `yaml:"end" json:"end"`
}

func (r RangeSt) HeaderValue() (string, error) {
	switch {
	case r.Start >= 0 && r.End >= 0:
		if r.End < r.Start {
			return "", errs.Desc(errs.Param, "range end is before start")
		}
		return "bytes=" + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End, 10), nil
	case r.Start >= 0:
		return "bytes=" + strconv.FormatInt(r.Start, 10) + "-", nil
	case r.End >= 0:
		return "bytes=-" + strconv.FormatInt(r.End, 10), nil
	default:
		return "", errs.Desc(errs.Param, "invalid range")
	}
}

func ParseVersion(v string) (httpc.Version, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1.1", "http/1.1":
		return httpc.Ver11, nil
	case "2", "2.0", "h2", "http/2", "http/2.0":
		return httpc.Ver20, nil
	default:
		return httpc.Ver11, errs.Desc(errs.Param, "unknown version "+v)
	}
}

type ResultSt struct {
	Name     string
	Proto    string
	Status   int
	Header   http.Header
	Body     []byte // empty when the body went to Output
	Received int64
	Output   string
	Duration time.Duration
	Err      error
}
