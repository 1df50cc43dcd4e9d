package reader

import (
	"context"
	"io"
	"net/url"
	"weak"

	"github.com/go-i2p/go-swbn/lib/bundle/parser"
)

// Request is a request for one resource of a bundle.
type Request struct {
	URL     *url.URL
	Method  string
	Headers map[string]string
}

// NewRequest parses rawURL into a GET request.
func NewRequest(rawURL string) (Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Request{}, err
	}
	return Request{URL: u, Method: "GET"}, nil
}

// Response is a response head plus a weak reference to the reader that
// produced it. Holding a Response does not keep the reader alive.
type Response struct {
	head   parser.ResponseHead
	reader weak.Pointer[Reader]
}

func newResponse(r *Reader, head *parser.ResponseHead) *Response {
	return &Response{head: *head, reader: weak.Make(r)}
}

func (r *Response) StatusCode() int { return r.head.StatusCode }

// Headers returns a copy of the response headers.
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.head.Headers))
	for k, v := range r.head.Headers {
		out[k] = v
	}
	return out
}

func (r *Response) ContentLength() uint64 { return r.head.PayloadLength }

// Head returns a copy of the parsed head.
func (r *Response) Head() parser.ResponseHead {
	head := r.head
	head.Headers = r.Headers()
	return head
}

// ReadBody copies the payload to w. It fails with a KindBodyRead error when
// the reader is gone.
func (r *Response) ReadBody(ctx context.Context, w io.Writer) error {
	rd := r.reader.Value()
	if rd == nil {
		return bodyReadError(errReaderGone)
	}
	return rd.ReadResponseBody(ctx, &r.head, w)
}
