package soapcalls

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	soapHTTPClientTimeout         = 20 * time.Second
	soapHTTPDialTimeout           = 5 * time.Second
	soapHTTPKeepAlive             = 30 * time.Second
	soapHTTPResponseHeaderTimeout = 10 * time.Second
	soapHTTPIdleConnTimeout       = 90 * time.Second

	defaultRetryMax = 3
)

var soapHTTPTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   soapHTTPDialTimeout,
		KeepAlive: soapHTTPKeepAlive,
	}).DialContext,
	ResponseHeaderTimeout: soapHTTPResponseHeaderTimeout,
	IdleConnTimeout:       soapHTTPIdleConnTimeout,
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   soapHTTPClientTimeout,
		Transport: soapHTTPTransport,
	}
}

// NewRetryableHTTPClient returns a plain *http.Client that retries
// connection errors and 5xx responses up to retryMax times.
func NewRetryableHTTPClient(retryMax int) *http.Client {
	if retryMax < 0 {
		retryMax = defaultRetryMax
	}
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.CheckRetry = soapRetryPolicy
	retryClient.HTTPClient = newHTTPClient()

	return retryClient.StandardClient()
}

// soapRetryPolicy does not retry SOAP faults; renderers answer them with a
// 500 that carries the UPnP error we want to surface.
func soapRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.StatusCode == http.StatusInternalServerError {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
