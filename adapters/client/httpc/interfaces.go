package httpc

// HttpC exchanges whole request/response bodies.
type HttpC interface {
	GetOptions() OptionsSt
	Do(reqBody []byte, opts OptionsSt) (*ResponseSt, error)
	Send(reqBody []byte, opts OptionsSt) ([]byte, error)
	SendJson(reqObj any, opts OptionsSt) ([]byte, error)
	SendRecvJson(reqBody []byte, repObj any, opts OptionsSt) ([]byte, error)
	SendJsonRecvJson(reqObj, repObj any, opts OptionsSt) ([]byte, error)
}
