package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pandebugger-api/pkg/middleware/requestid"
)

const responseMetaKey = "response_meta"

// WithResponseMeta collects per-response metadata (request id, processing time, cache use)
// that handlers attach to the envelope through ExtractMeta.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		meta := map[string]interface{}{}
		if id := requestid.Value(c); id != "" {
			meta["request_id"] = id
		}
		c.Set(responseMetaKey, meta)
		c.Set(responseMetaKey+"_start", start)
		c.Next()
	}
}

// SetCacheHit records whether the response was served from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	if meta := ExtractMeta(c); meta != nil {
		meta["cache_hit"] = hit
	}
}

// ExtractMeta returns the metadata for the current response with the elapsed processing
// time filled in, or nil when WithResponseMeta is not installed.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	value, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	meta, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	if start, ok := c.Get(responseMetaKey + "_start"); ok {
		meta["processing_time_ms"] = time.Since(start.(time.Time)).Milliseconds()
	}
	return meta
}
