package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/rendau/httpc/adapters/journal"
	"github.com/rendau/httpc/adapters/logger/zap"
	"github.com/rendau/httpc/adapters/resolver"
	"github.com/rendau/httpc/internal/config"
	"github.com/rendau/httpc/internal/suite"
	"github.com/rendau/httpc/tools"
)

var errUsage = errors.New("bad arguments")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "httpc failed: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lg := zap.New(cfg.LogLevel, cfg.LogDev || term.IsTerminal(int(os.Stderr.Fd())))
	defer lg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-tools.StopSignal():
			lg.Infow("stop signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	jr, err := newJournal(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("init journal: %w", err)
	}
	defer jr.Close()

	if args[0] == "journal" {
		return listJournal(ctx, jr, args[1:], out)
	}

	reqs, err := buildRequests(args)
	if err != nil {
		return err
	}

	cache, err := newCache(cfg, lg)
	if err != nil {
		return fmt.Errorf("init resolver cache: %w", err)
	}
	defer cache.Close()

	tlsInfo, err := cfg.TLSInfo()
	if err != nil {
		return err
	}

	runner := suite.New(suite.OptionsSt{
		Lg:            lg,
		Resolver:      resolver.New(lg, cache, cfg.ResolverTTL),
		Journal:       jr,
		TLS:           tlsInfo,
		HeaderBufSize: cfg.HeaderBufSize,
		RecvBufSize:   cfg.RecvBufSize,
		SocketTimeout: cfg.SocketTimeout,
		RunTimeout:    cfg.H2RunTimeout,
		UserAgent:     cfg.UserAgent,
	})

	results := runner.Run(ctx, reqs)

	failed := 0
	for _, r := range results {
		printResult(out, r)
		if r.Err != nil {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(results))
	}

	return nil
}

// buildRequests turns command line arguments into requests.
func buildRequests(args []string) ([]suite.RequestSt, error) {
	if len(args) == 0 {
		return nil, errUsage
	}

	switch args[0] {
	case "http", "https", "h2":
		if len(args) < 3 || len(args) > 4 {
			return nil, errUsage
		}

		method := strings.ToUpper(args[1])
		if method != "GET" && method != "POST" {
			return nil, errUsage
		}
		if method == "GET" && len(args) == 4 {
			return nil, errUsage
		}

		req := suite.RequestSt{
			Name:   args[0] + "-" + strings.ToLower(method),
			Url:    withScheme(args[0], args[2]),
			Method: method,
		}
		if args[0] == "h2" {
			req.Version = "2"
		}
		if len(args) == 4 {
			req.Body = args[3]
		}

		return []suite.RequestSt{req}, nil
	case "range":
		if len(args) != 4 {
			return nil, errUsage
		}

		start, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return nil, errUsage
		}
		end, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return nil, errUsage
		}

		r := suite.RangeSt{Start: start, End: end}
		if _, err = r.HeaderValue(); err != nil {
			return nil, err
		}

		return []suite.RequestSt{{Name: "range", Url: withScheme("http", args[1]), Method: "GET", Range: &r}}, nil
	case "chunk":
		if len(args) != 3 {
			return nil, errUsage
		}

		return []suite.RequestSt{{Name: "chunk", Url: withScheme("http", args[1]), Method: "GET", Output: args[2]}}, nil
	case "suite":
		if len(args) != 2 {
			return nil, errUsage
		}

		return suite.Load(args[1])
	default:
		return nil, errUsage
	}
}

// withScheme prefixes a bare host/path with the scheme implied by the command.
func withScheme(cmd, uri string) string {
	if strings.Contains(uri, "://") {
		return uri
	}
	if cmd == "https" || cmd == "h2" {
		return "https://" + uri
	}
	return "http://" + uri
}

func listJournal(ctx context.Context, jr journal.Journal, args []string, out io.Writer) error {
	pars := journal.ListParsSt{Limit: 20}

	for _, a := range args {
		if a == "errors" {
			pars.OnlyErrors = true
			continue
		}
		n, err := strconv.Atoi(a)
		if err != nil || n <= 0 {
			return errUsage
		}
		pars.Limit = n
	}

	entries, err := jr.List(ctx, pars)
	if err != nil {
		return fmt.Errorf("list journal: %w", err)
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-8s %-6s %3d %8dB %10s  %s",
			e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), e.Proto, e.Method, e.Status, e.BytesReceived, e.Duration, e.Uri)
		if e.Error != "" {
			line += "  error: " + e.Error
		}
		fmt.Fprintln(out, line)
	}

	return nil
}

func printResult(out io.Writer, r suite.ResultSt) {
	if r.Err != nil {
		fmt.Fprintf(out, "[%s] %s fail: %v\n", r.Name, r.Proto, r.Err)
		return
	}

	fmt.Fprintf(out, "[%s] %s %d, %d bytes in %s\n", r.Name, r.Proto, r.Status, r.Received, r.Duration)

	if r.Output != "" {
		fmt.Fprintf(out, "saved to %s\n", r.Output)
		return
	}

	if len(r.Body) > 0 {
		fmt.Fprintf(out, "recv : %s\n", r.Body)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage:
  httpc http get <url>
  httpc http post <url> [body]
  httpc https get <url>
  httpc https post <url> [body]
  httpc range <url> <start> <end>    (a negative bound leaves that side open)
  httpc chunk <url> <file>
  httpc h2 get <url>
  httpc h2 post <url> [body]
  httpc suite <file.yaml|file.json>
  httpc journal [limit] [errors]
`)
}
