package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/rendau/httpc/adapters/client/httpc"
	"github.com/rendau/httpc/adapters/logger"
	"github.com/rendau/httpc/errs"
)

const closeTimeout = time.Second

type Resolver interface {
	Lookup(ctx context.Context, host string) ([]string, error)
}

type DialOptionsSt struct {
	Lg       logger.Lite
	Resolver Resolver // nil lets the dialer resolve
	Version  httpc.Version
	TLS      *httpc.TLSInfoSt

	// Timeout bounds connect and, for HTTP/1.1, every Send/Recv.
	// Zero means httpc.DefaultSocketTimeout.
	Timeout time.Duration

	// TLSMaxVersion defaults to TLS 1.2.
	TLSMaxVersion uint16
}

// Conn is a TCP connection with an optional TLS session on top.
type Conn struct {
	lg      logger.Lite
	raw     net.Conn
	tls     *tls.Conn
	conn    net.Conn
	timeout time.Duration
	closed  atomic.Bool
}

func Dial(ctx context.Context, uri httpc.URISt, opts DialOptionsSt) (*Conn, error) {
	lg := logger.OrNop(opts.Lg)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = httpc.DefaultSocketTimeout
	}

	host := uri.Hostname()

	addrs := []string{host}
	if opts.Resolver != nil {
		var err error
		addrs, err = opts.Resolver.Lookup(ctx, host)
		if err != nil {
			return nil, err
		}
	}

	dialer := net.Dialer{Timeout: timeout}

	var raw net.Conn
	var err error

	for _, addr := range addrs {
		raw, err = dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, uri.Port))
		if err == nil {
			break
		}
		lg.Debugw("connect fail", "addr", addr, "port", uri.Port, "error", err)
	}
	if raw == nil {
		lg.Errorw("connect fail", err, "host", host, "port", uri.Port)
		return nil, errs.Desc(errs.Fail, "connect "+net.JoinHostPort(host, uri.Port))
	}

	c := &Conn{
		lg:   lg,
		raw:  raw,
		conn: raw,
	}

	// HTTP/2 connections are driven by a reader that must be free to block.
	if opts.Version == httpc.Ver11 {
		c.timeout = timeout
	}

	lg.Debugw("connected", "host", host, "addr", raw.RemoteAddr().String())

	if !uri.Secure {
		return c, nil
	}

	cfg, err := TLSConfig(host, opts.TLS, opts.Version, opts.TLSMaxVersion)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	if err = c.handshake(ctx, cfg, timeout); err != nil {
		_ = raw.Close()
		return nil, err
	}

	return c, nil
}

// TLSConfig builds the client configuration. Peer verification is on only
// when a CA certificate is supplied.
func TLSConfig(serverName string, info *httpc.TLSInfoSt, ver httpc.Version, maxVersion uint16) (*tls.Config, error) {
	if maxVersion == 0 {
		maxVersion = tls.VersionTLS12
	}

	cfg := &tls.Config{
		ServerName: serverName,
		MaxVersion: maxVersion,
	}

	if ver == httpc.Ver20 {
		cfg.NextProtos = []string{"h2", "http/1.1"}
	}

	if info == nil || len(info.Cert) == 0 {
		cfg.InsecureSkipVerify = true
	} else {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(info.Cert) {
			return nil, errs.Desc(errs.Fail, "bad ca certificate")
		}
		cfg.RootCAs = pool
	}

	if info != nil && len(info.ClientCert) > 0 && len(info.PrivateKey) > 0 {
		pair, err := tls.X509KeyPair(info.ClientCert, info.PrivateKey)
		if err != nil {
			return nil, errs.Desc(errs.Fail, "bad client certificate: "+err.Error())
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	return cfg, nil
}

func (c *Conn) handshake(ctx context.Context, cfg *tls.Config, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tc := tls.Client(c.raw, cfg)

	if err := tc.HandshakeContext(ctx); err != nil {
		var verifyErr *tls.CertificateVerificationError
		if errors.As(err, &verifyErr) {
			c.lg.Errorw("tls verify fail", err, "host", cfg.ServerName, "certs", len(verifyErr.UnverifiedCertificates))
		} else {
			c.lg.Errorw("tls handshake fail", err, "host", cfg.ServerName)
		}
		return errs.Desc(errs.Fail, "tls handshake: "+err.Error())
	}

	st := tc.ConnectionState()

	c.lg.Infow(
		"tls session established",
		"host", cfg.ServerName,
		"version", tls.VersionName(st.Version),
		"cipher_suite", tls.CipherSuiteName(st.CipherSuite),
		"alpn", st.NegotiatedProtocol,
	)

	c.tls = tc
	c.conn = tc

	return nil
}

// Send writes all of b.
func (c *Conn) Send(b []byte) (int, error) {
	if c == nil || c.closed.Load() {
		return 0, errs.NotConnected
	}

	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	n, err := c.conn.Write(b)
	if err != nil {
		return n, errs.Desc(errs.Send, err.Error())
	}

	return n, nil
}

// Recv reads at most len(b) bytes. It returns io.EOF once the peer closed
// the connection.
func (c *Conn) Recv(b []byte) (int, error) {
	if c == nil || c.closed.Load() {
		return 0, errs.NotConnected
	}

	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}

	n, err := c.conn.Read(b)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, errs.Desc(errs.Fail, err.Error())
	}

	return n, nil
}

func (c *Conn) Read(b []byte) (int, error) {
	return c.Recv(b)
}

func (c *Conn) Write(b []byte) (int, error) {
	return c.Send(b)
}

func (c *Conn) Secure() bool {
	return c != nil && c.tls != nil
}

// NegotiatedProtocol returns the ALPN result, empty for plain connections.
func (c *Conn) NegotiatedProtocol() string {
	if !c.Secure() {
		return ""
	}
	return c.tls.ConnectionState().NegotiatedProtocol
}

func (c *Conn) RemoteAddr() string {
	if c == nil {
		return ""
	}
	return c.raw.RemoteAddr().String()
}

// Close sends close_notify on TLS connections and closes the socket.
// It is safe to call more than once.
func (c *Conn) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error

	if c.tls != nil {
		_ = c.raw.SetWriteDeadline(time.Now().Add(closeTimeout))
		err = multierr.Append(err, c.tls.CloseWrite())
	}

	err = multierr.Append(err, c.raw.Close())

	return err
}
