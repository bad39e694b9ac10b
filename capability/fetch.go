package capability

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/async"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/hoststring"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/view"
)

// readChunk bounds a single body reader step.
const readChunk = 64 << 10

// AbortSignal is observed by fetches and body reads.
type AbortSignal struct {
	ctx context.Context
}

// Aborted reports whether the owning controller aborted.
func (a *AbortSignal) Aborted() bool { return a.ctx.Err() != nil }

func (a *AbortSignal) Get(key string) any {
	if key == "aborted" {
		return a.Aborted()
	}
	return nil
}
func (a *AbortSignal) Set(string, any)     {}
func (a *AbortSignal) Delete(string) bool  { return false }
func (a *AbortSignal) Has(key string) bool { return key == "aborted" }
func (a *AbortSignal) Keys() []string      { return []string{"aborted"} }

// AbortController cancels the requests started with its signal.
type AbortController struct {
	Signal *AbortSignal
	cancel context.CancelFunc
}

// NewAbortController returns a controller whose signal ends with parent.
func NewAbortController(parent context.Context) *AbortController {
	ctx, cancel := context.WithCancel(parent)
	return &AbortController{Signal: &AbortSignal{ctx: ctx}, cancel: cancel}
}

// Abort cancels every request using the controller's signal. Repeated calls
// are harmless.
func (c *AbortController) Abort() { c.cancel() }

// Response is the host side of a completed fetch.
type Response struct {
	Header     http.Header
	body       io.ReadCloser
	URL        string
	Status     int
	Redirected bool
	mu         sync.Mutex
	used       bool
}

func newResponse(resp *http.Response, requested string) *Response {
	url := requested
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	return &Response{
		Header:     resp.Header,
		body:       resp.Body,
		URL:        url,
		Status:     resp.StatusCode,
		Redirected: url != requested,
	}
}

// take hands the body to exactly one consumer.
func (r *Response) take() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return nil, errors.InvalidInput(errors.PhaseHost, "response body already used")
	}
	r.used = true
	return r.body, nil
}

func (r *Response) Get(key string) any {
	switch key {
	case "status":
		return float64(r.Status)
	case "ok":
		return r.Status >= 200 && r.Status <= 299
	case "statusText":
		return hoststring.FromGo(http.StatusText(r.Status))
	case "url":
		return hoststring.FromGo(r.URL)
	case "redirected":
		return r.Redirected
	case "bodyUsed":
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.used
	}
	return nil
}

var responseKeys = []string{"status", "ok", "statusText", "url", "redirected", "bodyUsed"}

func (r *Response) Set(string, any)    {}
func (r *Response) Delete(string) bool { return false }
func (r *Response) Keys() []string     { return append([]string(nil), responseKeys...) }
func (r *Response) Has(key string) bool {
	for _, k := range responseKeys {
		if k == key {
			return true
		}
	}
	return false
}

// maxEmptyReads bounds consecutive (0, nil) reads before a chunk read fails.
const maxEmptyReads = 100

// BodyReader streams a response body in chunks.
type BodyReader struct {
	body io.ReadCloser
	mu   sync.Mutex
	done bool
}

// read returns the next chunk, or nil with done set at the end.
func (b *BodyReader) read() (chunk []byte, done bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, true, nil
	}
	buf := make([]byte, readChunk)
	for range maxEmptyReads {
		n, err := b.body.Read(buf)
		if n > 0 {
			return buf[:n], false, nil
		}
		if err == io.EOF {
			b.done = true
			return nil, true, b.body.Close()
		}
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, io.ErrNoProgress
}

func (b *BodyReader) cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true
	return b.body.Close()
}

func reason(err error) any {
	return hoststring.FromGo("TypeError: " + err.Error())
}

// background runs work off the loop and settles p with its result on the loop.
// The loop is held until the result is posted.
func (s *set) background(p *async.Promise, work func() (any, error)) {
	loop := s.env.Loop()
	release := loop.Hold()
	go func() {
		defer release()
		v, err := work()
		posted := loop.Post(func(context.Context) error {
			if err != nil {
				p.Reject(reason(err))
				return nil
			}
			p.Resolve(v)
			return nil
		})
		if !posted {
			if resp, ok := v.(*Response); ok {
				resp.body.Close()
			}
		}
	}()
}

func (s *set) client(redirect string) *http.Client {
	c := http.DefaultClient
	if s.env.HTTPClient() != nil {
		c = s.env.HTTPClient()
	}
	cp := *c
	switch redirect {
	case "error":
		cp.CheckRedirect = func(*http.Request, []*http.Request) error {
			return errors.InvalidInput(errors.PhaseHost, "redirect mode is set to error")
		}
	case "manual":
		cp.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &cp
}

// request builds an http.Request from a fetch init object.
func (s *set) request(url string, init any) (*http.Request, string, error) {
	ctx := s.env.Context()
	method := http.MethodGet
	redirect := "follow"
	var (
		header http.Header
		body   io.Reader
	)
	if o, ok := init.(value.Object); ok {
		if m := o.Get("method"); !value.IsNullish(m) {
			method = strings.ToUpper(value.ToString(m))
		}
		if r := o.Get("redirect"); !value.IsNullish(r) {
			redirect = value.ToString(r)
		}
		if h, ok := o.Get("headers").(value.Object); ok {
			header = make(http.Header)
			for _, k := range h.Keys() {
				header.Add(k, value.ToString(h.Get(k)))
			}
		}
		switch b := o.Get("body").(type) {
		case nil, value.NullValue:
		default:
			if str, ok := hoststring.Coerce(b); ok {
				body = strings.NewReader(str.String())
			} else {
				body = bytes.NewReader(bytesOf(b))
			}
		}
		if sig, ok := o.Get("signal").(*AbortSignal); ok {
			ctx = sig.ctx
		}
		if c := o.Get("credentials"); !value.IsNullish(c) {
			s.env.Logger().Debug("fetch credentials mode ignored", zap.String("credentials", value.ToString(c)))
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, "", err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	return req, redirect, nil
}

func (s *set) fetch() {
	s.add("fetch-init", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, value.ObjectFrom(
			"method", s.val(stack, 0),
			"headers", s.val(stack, 1),
			"body", s.val(stack, 2),
			"credentials", s.val(stack, 3),
			"redirect", s.val(stack, 4),
			"signal", s.val(stack, 5),
		))
	})
	s.add("abort-controller-new", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, NewAbortController(s.env.Context()))
	})
	s.add("abort-controller-signal", func(_ context.Context, _ api.Module, stack []uint64) {
		s.ret(stack, as[*AbortController](s, stack, 0, "AbortController").Signal)
	})
	s.add("abort", func(_ context.Context, _ api.Module, stack []uint64) {
		as[*AbortController](s, stack, 0, "AbortController").Abort()
	})
	s.add("fetch", func(_ context.Context, _ api.Module, stack []uint64) {
		url := value.ToString(s.val(stack, 0))
		p := s.env.Loop().NewPromise()
		req, redirect, err := s.request(url, s.val(stack, 1))
		if err != nil {
			p.Reject(reason(err))
			s.ret(stack, p)
			return
		}
		client := s.client(redirect)
		s.env.Logger().Debug("fetch", zap.String("method", req.Method), zap.String("url", url))
		s.background(p, func() (any, error) {
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			return newResponse(resp, url), nil
		})
		s.ret(stack, p)
	})
	s.add("body-get-reader", func(_ context.Context, _ api.Module, stack []uint64) {
		body, err := as[*Response](s, stack, 0, "Response").take()
		if err != nil {
			trap(err)
		}
		s.ret(stack, &BodyReader{body: body})
	})
	s.add("reader-read", func(_ context.Context, _ api.Module, stack []uint64) {
		r := as[*BodyReader](s, stack, 0, "body reader")
		p := s.env.Loop().NewPromise()
		s.background(p, func() (any, error) {
			chunk, done, err := r.read()
			if err != nil {
				return nil, err
			}
			if done {
				return value.ObjectFrom("done", true, "value", nil), nil
			}
			return value.ObjectFrom("done", false, "value", view.Of(chunk...)), nil
		})
		s.ret(stack, p)
	})
	s.add("reader-cancel", func(_ context.Context, _ api.Module, stack []uint64) {
		if err := as[*BodyReader](s, stack, 0, "body reader").cancel(); err != nil {
			s.env.Logger().Debug("body reader cancel", zap.Error(err))
		}
	})
	s.add("response-array-buffer", func(_ context.Context, _ api.Module, stack []uint64) {
		body, err := as[*Response](s, stack, 0, "Response").take()
		if err != nil {
			trap(err)
		}
		p := s.env.Loop().NewPromise()
		s.background(p, func() (any, error) {
			defer body.Close()
			b, err := io.ReadAll(body)
			if err != nil {
				return nil, err
			}
			return view.ArrayBufferOf(b), nil
		})
		s.ret(stack, p)
	})
	s.add("headers-get", func(_ context.Context, _ api.Module, stack []uint64) {
		resp := as[*Response](s, stack, 0, "Response")
		vs := resp.Header.Values(value.ToString(s.val(stack, 1)))
		if len(vs) == 0 {
			s.ret(stack, value.Null)
			return
		}
		s.ret(stack, hoststring.FromGo(strings.Join(vs, ", ")))
	})
	s.add("response-status", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeU32(uint32(as[*Response](s, stack, 0, "Response").Status))
	})
}
