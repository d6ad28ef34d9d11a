package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vango-dev/channel/pkg/protocol"
)

// HTTPRequester issues long-poll requests with net/http.
type HTTPRequester struct {
	// URL is the poll endpoint.
	URL string

	// Client defaults to http.DefaultClient. Per-request deadlines come from
	// Request.Timeout.
	Client *http.Client

	// MaxBodySize caps a response body.
	// Default: 16 times protocol.DefaultMaxMessageSize.
	MaxBodySize int64
}

// Send implements Requester.
func (r *HTTPRequester) Send(req *Request, done func(*Response)) Call {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), req.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	go func() {
		defer cancel()
		done(r.do(ctx, req))
	}()
	return abortFunc(cancel)
}

func (r *HTTPRequester) do(ctx context.Context, req *Request) *Response {
	u, err := url.Parse(r.URL)
	if err != nil {
		return &Response{Err: fmt.Errorf("client: poll url: %w", err)}
	}
	if req.Token != "" {
		q := u.Query()
		q.Set(protocol.PollTokenParam, req.Token)
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return &Response{Err: err}
	}
	if body != nil {
		hreq.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return &Response{Err: err}
	}
	defer resp.Body.Close()

	limit := r.MaxBodySize
	if limit <= 0 {
		limit = 16 * protocol.DefaultMaxMessageSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return &Response{Err: err}
	}
	return &Response{Status: resp.StatusCode, Body: string(data)}
}

type abortFunc context.CancelFunc

func (f abortFunc) Abort() { f() }
