package httpclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Adapter performs the transport call for one normalized request.
//
// Exactly one Adapter is active per Client. Implementations must not
// mutate cfg and must return a non-nil Response whenever the server
// answered, regardless of status code. Status validation is done by the
// Client.
type Adapter interface {
	Request(ctx context.Context, cfg *RequestConfig) (*Response, error)
}

// Uploader is implemented by adapters that support multipart uploads.
// body is encoded once per call and may be sent again on retry.
type Uploader interface {
	Upload(ctx context.Context, cfg *RequestConfig, body *MultipartBody) (*Response, error)
}

// Downloader is implemented by adapters that can stream a response body.
// The returned Response carries no Data; the body is written to w.
type Downloader interface {
	Download(
		ctx context.Context,
		cfg *RequestConfig,
		w io.Writer,
		onProgress ProgressFunc,
	) (*Response, error)
}

// AdapterFunc adapts an ordinary function to the Adapter interface.
type AdapterFunc func(ctx context.Context, cfg *RequestConfig) (*Response, error)

// Request calls f(ctx, cfg).
func (f AdapterFunc) Request(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	return f(ctx, cfg)
}

// Platform identifies the transport family an adapter targets.
type Platform string

const (
	// PlatformHTTP uses net/http. It supports uploads and downloads.
	PlatformHTTP Platform = "http"

	// PlatformHost uses a native host bridge (fasthttp by default).
	PlatformHost Platform = "host"

	// PlatformCustom marks a caller-supplied adapter.
	PlatformCustom Platform = "custom"
)

// Environment variables consulted by DetectPlatform.
const (
	// EnvPlatform forces a platform by name ("http" or "host").
	EnvPlatform = "REQKIT_PLATFORM"

	// EnvHostRuntime is set by native host runtimes. Any non-empty value
	// selects PlatformHost.
	EnvHostRuntime = "REQKIT_HOST_RUNTIME"
)

// ParsePlatform parses a platform name, case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformHTTP:
		return PlatformHTTP, nil
	case PlatformHost:
		return PlatformHost, nil
	default:
		return "", fmt.Errorf("httpclient: unknown platform %q", s)
	}
}

// DetectPlatform picks a platform from the environment.
//
// An explicit EnvPlatform wins; otherwise a non-empty EnvHostRuntime
// selects PlatformHost. Everything else runs on PlatformHTTP. getenv is
// usually os.Getenv.
func DetectPlatform(getenv func(string) string) Platform {
	if p, err := ParsePlatform(getenv(EnvPlatform)); err == nil {
		return p
	}
	if getenv(EnvHostRuntime) != "" {
		return PlatformHost
	}
	return PlatformHTTP
}

// NewAdapter builds the adapter for the given platform.
// Transport tuning, tracing and logging options are honored; options that
// configure the Client itself are ignored.
//
// Example:
//
//	adapter, err := httpclient.NewAdapter(httpclient.PlatformHost,
//	    httpclient.WithHostBridge(myBridge),
//	)
func NewAdapter(platform Platform, opts ...Option) (Adapter, error) {
	return newAdapter(platform, newConfig(opts...))
}

// AutoAdapter builds the adapter for the platform detected from the
// process environment.
func AutoAdapter(opts ...Option) (Adapter, error) {
	return NewAdapter(DetectPlatform(os.Getenv), opts...)
}

func newAdapter(platform Platform, cfg *internalConfig) (Adapter, error) {
	switch platform {
	case PlatformHTTP:
		return newHTTPAdapter(cfg), nil
	case PlatformHost:
		return newHostAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("httpclient: no built-in adapter for platform %q", platform)
	}
}

// resolveAdapter applies the selection order used by New: a custom adapter,
// then an explicit platform, then environment detection.
func resolveAdapter(cfg *internalConfig) (Adapter, Platform, error) {
	if cfg.Adapter != nil {
		return cfg.Adapter, PlatformCustom, nil
	}
	platform := cfg.Platform
	if platform == "" {
		platform = DetectPlatform(cfg.Getenv)
	}
	adapter, err := newAdapter(platform, cfg)
	if err != nil {
		return nil, "", err
	}
	return adapter, platform, nil
}
