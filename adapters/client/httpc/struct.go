package httpc

import (
	"net/http"
	"net/url"
	"time"
)

type OptionsSt struct {
	BaseUrl        string
	BaseParams     url.Values
	BaseHeaders    http.Header
	BaseLogPrefix  string
	BasicAuthCreds *BasicAuthCredsSt
	Version        Version
	TLS            *TLSInfoSt
	UserAgent      string
	HeaderBufSize  int

	Method        string
	Path          string
	Params        url.Values
	Headers       http.Header
	LogFlags      int
	LogPrefix     string
	RetryCount    int
	RetryInterval time.Duration
	Timeout       time.Duration
}

type BasicAuthCredsSt struct {
	Username string
	Password string
}

func (o OptionsSt) GetMergedWith(v OptionsSt) OptionsSt {
	res := o

	if v.BaseUrl != "" {
		if v.BaseUrl == "-" {
			res.BaseUrl = ""
		} else {
			res.BaseUrl = v.BaseUrl
		}
	}
	if v.BaseParams != nil {
		res.BaseParams = v.BaseParams
	}
	if v.BaseHeaders != nil {
		res.BaseHeaders = v.BaseHeaders
	}
	if v.BaseLogPrefix != "" {
		if v.BaseLogPrefix == "-" {
			res.BaseLogPrefix = ""
		} else {
			res.BaseLogPrefix = v.BaseLogPrefix
		}
	}
	if v.BasicAuthCreds != nil {
		res.BasicAuthCreds = v.BasicAuthCreds
	}
	if v.Version != Ver11 {
		res.Version = v.Version
	}
	if v.TLS != nil {
		res.TLS = v.TLS
	}
	if v.UserAgent != "" {
		if v.UserAgent == "-" {
			res.UserAgent = ""
		} else {
			res.UserAgent = v.UserAgent
		}
	}
	if v.HeaderBufSize != 0 {
		if v.HeaderBufSize < 0 {
			res.HeaderBufSize = 0
		} else {
			res.HeaderBufSize = v.HeaderBufSize
		}
	}
	if v.Method != "" {
		if v.Method == "-" {
			res.Method = ""
		} else {
			res.Method = v.Method
		}
	}
	if v.Path != "" {
		if v.Path == "-" {
			res.Path = ""
		} else {
			res.Path = v.Path
		}
	}
	if v.Params != nil {
		res.Params = v.Params
	}
	if v.Headers != nil {
		res.Headers = v.Headers
	}
	if v.LogFlags != 0 {
		if v.LogFlags < 0 {
			res.LogFlags = 0
		} else {
			res.LogFlags = v.LogFlags
		}
	}
	if v.LogPrefix != "" {
		if v.LogPrefix == "-" {
			res.LogPrefix = ""
		} else {
			res.LogPrefix = v.LogPrefix
		}
	}
	if v.RetryCount != 0 {
		if v.RetryCount < 0 {
			res.RetryCount = 0
		} else {
			res.RetryCount = v.RetryCount
		}
	}
	if v.RetryInterval != 0 {
		if v.RetryInterval < 0 {
			res.RetryInterval = 0
		} else {
			res.RetryInterval = v.RetryInterval
		}
	}
	if v.Timeout != 0 {
		if v.Timeout < 0 {
			res.Timeout = 0
		} else {
			res.Timeout = v.Timeout
		}
	}

	return res
}

// TLSInfoSt holds PEM encoded material. Cert is the CA bundle used to verify
// the server; ClientCert and PrivateKey are used only when both are set.
type TLSInfoSt struct {
	Cert       []byte
	ClientCert []byte
	PrivateKey []byte
}

// URISt is a parsed request target.
type URISt struct {
	Secure bool
	Host   string // authority as written in the uri, used for the Host header
	Path   string
	Port   string
}

// Hostname returns Host without a port.
func (u URISt) Hostname() string {
	return (&url.URL{Host: u.Host}).Hostname()
}

func (u URISt) Scheme() string {
	if u.Secure {
		return "https"
	}
	return "http"
}

func (u URISt) String() string {
	return u.Scheme() + "://" + u.Host + u.Path
}

// MemNodeSt is a caller-owned fixed capacity buffer. It holds the request
// header while it is being built and the response header once received.
type MemNodeSt struct {
	Buf  []byte
	Used int
}

func NewMemNode(size int) *MemNodeSt {
	return &MemNodeSt{Buf: make([]byte, size)}
}

func (n *MemNodeSt) Len() int {
	return len(n.Buf)
}

func (n *MemNodeSt) Bytes() []byte {
	return n.Buf[:n.Used]
}

func (n *MemNodeSt) Reset() {
	clear(n.Buf)
	n.Used = 0
}

type ResponseSt struct {
	StatusCode int
	Proto      string
	Header     http.Header
	Body       []byte
}
