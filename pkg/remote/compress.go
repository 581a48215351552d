package remote

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is sent on every request. Setting it by hand turns off the
// transport's own gzip handling, so decodeBody covers both encodings.
const acceptEncoding = "gzip, zstd"

// decodeBody wraps body according to the response Content-Encoding.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch enc := strings.ToLower(strings.TrimSpace(contentEncoding)); enc {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip response: %w", err)
		}
		return &decodedBody{Reader: zr, closeFn: func() error {
			zr.Close()
			return body.Close()
		}}, nil
	case "zstd":
		dec, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("zstd response: %w", err)
		}
		return &decodedBody{Reader: dec, closeFn: func() error {
			dec.Close()
			return body.Close()
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

type decodedBody struct {
	io.Reader
	closeFn func() error
}

func (d *decodedBody) Close() error {
	return d.closeFn()
}
