package api

import (
	"fmt"
	"net/http"
	"unicode/utf8"
)

// Response is the envelope delivered to interceptors and callers.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string

	// File is the temporary file holding the body of a streamed
	// download. Body is empty when File is set.
	File string
}

// Successful reports whether the status code is in the 2xx range.
func (r *Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// HeaderValue returns the first value for a header, case-insensitive.
func (r *Response) HeaderValue(name string) string {
	return r.Header.Get(name)
}

func (r *Response) String() string {
	return fmt.Sprintf("%d %s\n\n%s", r.StatusCode, r.URL, sanitizeBody(r.Body))
}

// TypedResponse is a Response whose body was decoded into Value.
type TypedResponse[T any] struct {
	*Response
	Value T
}

// sanitizeBody truncates and sanitizes a body for inclusion in error
// messages and logs. Limits to 256 bytes and replaces non-printable
// characters to prevent log injection.
func sanitizeBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
