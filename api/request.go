package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Method is an HTTP method. Custom methods can be declared as
// Method("PROPFIND").
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPut    Method = http.MethodPut
	MethodPost   Method = http.MethodPost
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

// Request is the outgoing envelope handed to interceptors. Interceptors
// must treat a Request they receive as read-only and return a Clone when
// they change it.
type Request struct {
	Method Method
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest creates a request for an absolute http or https URL.
func NewRequest(method Method, rawURL string, headers map[string]string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", rawURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}

	r := &Request{
		Method: method,
		URL:    u.String(),
		Header: make(http.Header, len(headers)),
	}

	for k, v := range headers {
		r.Header.Set(k, v)
	}

	return r, nil
}

// Get is shorthand for NewRequest(MethodGet, rawURL, nil).
func Get(rawURL string) (*Request, error) {
	return NewRequest(MethodGet, rawURL, nil)
}

// Post creates a POST request with body encoded as JSON.
func Post(rawURL string, body any) (*Request, error) {
	r, err := NewRequest(MethodPost, rawURL, nil)
	if err != nil {
		return nil, err
	}

	if err := r.SetJSONBody(body); err != nil {
		return nil, err
	}

	return r, nil
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	c := &Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
	}

	if c.Header == nil {
		c.Header = make(http.Header)
	}

	if r.Body != nil {
		c.Body = bytes.Clone(r.Body)
	}

	return c
}

// SetHeader sets a header, replacing any previous value for the key.
func (r *Request) SetHeader(key, value string) *Request {
	if r.Header == nil {
		r.Header = make(http.Header)
	}

	r.Header.Set(key, value)

	return r
}

// SetBody sets the raw body.
func (r *Request) SetBody(body []byte) *Request {
	r.Body = body
	return r
}

// SetJSONBody encodes v as JSON into the body and sets Content-Type.
func (r *Request) SetJSONBody(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling request body: %w", err)
	}

	r.SetHeader("Content-Type", "application/json")
	r.Body = data

	return nil
}

func (r *Request) httpRequest(ctx context.Context) (*http.Request, error) {
	var body *bytes.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	method := string(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var (
		req *http.Request
		err error
	)

	// A typed nil *bytes.Reader must not reach NewRequestWithContext.
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, r.URL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, r.URL, nil)
	}

	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range r.Header {
		req.Header[k] = append([]string(nil), vs...)
	}

	return req, nil
}
