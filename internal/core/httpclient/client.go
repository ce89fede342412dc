// Package httpclient configures the HTTP client used to call WMS servers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "wms-tilesource"
)

type options struct {
	timeout   time.Duration
	userAgent string
}

type Option func(*options)

// WithTimeout bounds a single fetch, body included. Non-positive values keep
// the default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// NewOutbound creates the client shared by capabilities, tile-service and
// tile requests. Nothing is retried.
func NewOutbound(opts ...Option) *http.Client {
	o := options{timeout: DefaultTimeout, userAgent: DefaultUserAgent}
	for _, fn := range opts {
		fn(&o)
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: &userAgentTransport{next: transport, ua: o.userAgent},
		Timeout:   o.timeout,
	}
}

type userAgentTransport struct {
	next http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(r)
	}
	r2 := r.Clone(r.Context())
	r2.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r2)
}
