package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig tunes response compression. Batch reports and readiness
// payloads are small, so only bodies past MinLength are compressed.
type BrotliConfig struct {
	Quality   int
	MinLength int
	Skipper   func(c *gin.Context) bool
}

var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

// brotliWriter buffers the body until MinLength is reached, then switches to
// compressed output for the rest of the response.
type brotliWriter struct {
	gin.ResponseWriter
	writer     *brotli.Writer
	buf        []byte
	minLength  int
	compressed bool
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	if bw.compressed {
		return bw.writer.Write(data)
	}

	bw.buf = append(bw.buf, data...)
	if len(bw.buf) < bw.minLength {
		return len(data), nil
	}

	bw.compressed = true
	bw.ResponseWriter.Header().Set("Content-Encoding", "br")
	bw.ResponseWriter.Header().Del("Content-Length")
	if _, err := bw.writer.Write(bw.buf); err != nil {
		return 0, err
	}
	bw.buf = nil
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// finish writes whatever is left: the plain buffer when the body stayed
// short, or the brotli trailer otherwise.
func (bw *brotliWriter) finish() error {
	if bw.compressed {
		return bw.writer.Close()
	}
	if len(bw.buf) == 0 {
		return nil
	}
	_, err := bw.ResponseWriter.Write(bw.buf)
	bw.buf = nil
	return err
}

// Brotli compresses responses for clients that accept "br".
func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

// BrotliWithConfig is Brotli with explicit settings.
func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < 0 || cfg.Quality > brotli.BestCompression {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}
		if cfg.Skipper != nil && cfg.Skipper(c) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			minLength:      cfg.MinLength,
			writer:         brotli.NewWriterLevel(c.Writer, cfg.Quality),
		}
		c.Writer = bw

		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()
		c.Next()
	}
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		// Strip any q-value, e.g. "br;q=0.9".
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
