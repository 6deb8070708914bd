// Package httpclient builds the outbound HTTP clients used for health probes
// and webhook delivery.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/proxy"
)

// UserAgent identifies probe traffic to upstream providers.
const UserAgent = "APIBridge-HealthProbe/1.0"

// Options configures New.
type Options struct {
	// ProxyURL routes traffic through a socks5:// or http(s):// proxy when set.
	ProxyURL string
	// Timeout is the client-wide ceiling. Per-attempt deadlines come from the
	// request context.
	Timeout time.Duration
	// MaxIdleConnsPerHost defaults to 4.
	MaxIdleConnsPerHost int
}

// New returns a resty client with proxy support. Redirects are not followed
// so that a probe observes the upstream's own status.
func New(opts Options) (*resty.Client, error) {
	transport, err := newTransport(opts)
	if err != nil {
		return nil, err
	}

	client := resty.NewWithClient(&http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	})
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	client.SetHeader("User-Agent", UserAgent)
	client.SetRetryCount(0)
	return client, nil
}

func newTransport(opts Options) (*http.Transport, error) {
	idle := opts.MaxIdleConnsPerHost
	if idle <= 0 {
		idle = 4
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   idle,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ExpectContinueTimeout: time.Second,
	}

	if opts.ProxyURL == "" {
		return transport, nil
	}

	parsedProxy, err := url.Parse(opts.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedProxy.Scheme {
	case "socks5":
		dial, err := socks5DialContext(parsedProxy)
		if err != nil {
			return nil, err
		}
		transport.DialContext = dial
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedProxy)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsedProxy.Scheme)
	}
	return transport, nil
}

// socks5DialContext 创建 SOCKS5 代理拨号函数
func socks5DialContext(proxyURL *url.URL) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{
			User:     proxyURL.User.Username(),
			Password: password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}
