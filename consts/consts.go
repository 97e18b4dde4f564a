package consts

import "time"

const (
	AppName = "ajaxbridge"

	DefaultConfigFileName = AppName + ".toml"
	EnvPrefix             = "AJAXBRIDGE"

	DefaultConnectionTimeout = 30 * time.Second

	DefaultDispatchWorkers   = 4
	DefaultDispatchQueueSize = 64

	DefaultCacheBackend  = "memory"
	DefaultCacheTTL      = 5 * time.Minute
	DefaultCacheCapacity = 256
	DefaultCacheFolder   = "cache"

	DefaultMetricsAddress = ":9090"
	MetricsNamespace      = "ajaxbridge"
)

// Info strings handed to fail/always callbacks.
const (
	InfoTimeout    = "timeout"
	InfoError      = "error"
	InfoParseError = "parseerror"
	InfoAbort      = "abort"
)

const (
	HeaderContentType  = "content-type"
	HeaderCacheControl = "cache-control"
	JSONContentType    = "application/json"
)

// DefaultHeaders are applied to every request unless overridden per request.
// Treat as read-only.
var DefaultHeaders = map[string]string{
	"Accept-Charset":  "utf-8",
	"Accept-Language": "en-US",
	"Cache-Control":   "no-cache, no-store",
	"Connection":      "keep-alive",
}
