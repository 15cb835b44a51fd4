package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// responseCompression negotiates Content-Encoding for large payloads.
// Preference order: zstd, br, gzip. Anything else passes through
// uncompressed.
func responseCompression(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accepted := r.Header.Get("Accept-Encoding")

		var enc io.WriteCloser
		var name string
		switch {
		case acceptsEncoding(accepted, "zstd"):
			zw, err := zstd.NewWriter(w)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			enc, name = zw, "zstd"
		case acceptsEncoding(accepted, "br"):
			enc, name = brotli.NewWriter(w), "br"
		case acceptsEncoding(accepted, "gzip"):
			enc, name = gzip.NewWriter(w), "gzip"
		default:
			next.ServeHTTP(w, r)
			return
		}
		defer enc.Close()

		w.Header().Set("Content-Encoding", name)
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(&compressedWriter{ResponseWriter: w, enc: enc}, r)
	})
}

func acceptsEncoding(header, encoding string) bool {
	for _, part := range strings.Split(header, ",") {
		token := strings.TrimSpace(part)
		if i := strings.IndexByte(token, ';'); i >= 0 {
			token = token[:i]
		}
		if strings.EqualFold(token, encoding) {
			return true
		}
	}
	return false
}

// compressedWriter routes the body through the negotiated encoder. The
// encoded length is unknown up front, so Content-Length is dropped before
// the header is committed.
type compressedWriter struct {
	http.ResponseWriter
	enc io.Writer
}

func (cw *compressedWriter) WriteHeader(status int) {
	cw.Header().Del("Content-Length")
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *compressedWriter) Write(b []byte) (int, error) {
	return cw.enc.Write(b)
}
