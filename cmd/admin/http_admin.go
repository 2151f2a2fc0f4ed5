package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// apiClient talks to a running server. Operator routes under /admin are
// only served to loopback callers.
type apiClient struct {
	base string
	cl   *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		cl:   &http.Client{Timeout: 10 * time.Second},
	}
}

// call sends body (JSON-encoded when non-nil) and copies the response to out.
func (c *apiClient) call(method, path string, body any, out io.Writer) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.cl.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

func httpCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	force := fs.Bool("force", false, "advance even if not everyone has acted (advance only)")
	_ = fs.Parse(args)

	method, path, body, err := httpRequestFor(name, fs.Args(), *force)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	status, err := newAPIClient(*baseURL).call(method, path, body, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	if status/100 != 2 {
		os.Exit(1)
	}
}

// httpRequestFor maps a subcommand and its positional args to an API call.
func httpRequestFor(name string, args []string, force bool) (method, path string, body any, err error) {
	arg := func() (string, error) {
		if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
			return "", fmt.Errorf("usage: admin %s <id>", name)
		}
		return strings.TrimSpace(args[0]), nil
	}

	switch name {
	case "state":
		return http.MethodGet, "/admin/v1/state", nil, nil
	case "sweep":
		return http.MethodPost, "/admin/v1/sweep", nil, nil
	case "islands":
		return http.MethodGet, "/v1/islands", nil, nil
	case "leaderboard":
		return http.MethodGet, "/v1/leaderboard", nil, nil
	case "island":
		id, err := arg()
		return http.MethodGet, "/v1/islands/" + id, nil, err
	case "create":
		typ, err := arg()
		return http.MethodPost, "/v1/islands", map[string]string{"island_type": typ}, err
	case "advance":
		id, err := arg()
		return http.MethodPost, "/v1/islands/" + id + "/advance", map[string]bool{"force": force}, err
	case "quickfill":
		id, err := arg()
		return http.MethodPost, "/v1/islands/" + id + "/quick_fill", nil, err
	default:
		return "", "", nil, fmt.Errorf("unknown command %q", name)
	}
}
