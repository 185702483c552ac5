package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodySize applies when the configured size cannot be parsed.
const DefaultMaxBodySize = 1 << 20

// BodySizeLimit restricts request bodies to maxSize ("512KB", "1MB", ...).
func BodySizeLimit(maxSize string) gin.HandlerFunc {
	size := ParseSize(maxSize, DefaultMaxBodySize)
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, size)
		c.Next()
	}
}

// ParseSize parses a byte size with an optional B, KB, MB or GB suffix.
// It returns fallback for empty or malformed input.
func ParseSize(s string, fallback int64) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * mult
}
