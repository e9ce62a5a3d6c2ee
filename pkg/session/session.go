package session

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samogod/trainconf/pkg/config"
)

var DebugLog func(string, ...interface{})

type Session struct {
	Client    *http.Client
	Transport http.RoundTripper
	Config    *config.Config
}

type LoggingTransport struct {
	Transport http.RoundTripper
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if DebugLog != nil {
		DebugLog("requesting url: %s", req.URL.String())

		if len(req.Header) > 0 {
			var headers []string
			for k, v := range req.Header {
				if k == "User-Agent" || k == "Authorization" {
					continue
				}
				headers = append(headers, fmt.Sprintf("%s: %s", k, strings.Join(v, ", ")))
			}
			if len(headers) > 0 {
				DebugLog("request headers: %s", strings.Join(headers, " | "))
			}
		}
	}

	resp, err := t.Transport.RoundTrip(req)

	if DebugLog != nil {
		host := extractHostName(req.URL.String())

		if err != nil {
			DebugLog("encountered an error with %s: %v", host, err)
		} else {
			DebugLog("response for %s: status code %d", req.URL.String(), resp.StatusCode)

			if resp.StatusCode >= 400 && resp.Body != nil {
				bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 500))
				if readErr == nil && len(bodyBytes) > 0 {
					DebugLog("error response body: %s", string(bodyBytes))
				}
				resp.Body = struct {
					io.Reader
					io.Closer
				}{io.MultiReader(strings.NewReader(string(bodyBytes)), resp.Body), resp.Body}
			}
		}
	}

	return resp, err
}

func extractHostName(url string) string {
	parts := strings.Split(url, "://")
	if len(parts) > 1 {
		host := strings.Split(parts[1], "/")[0]
		host = strings.Split(host, ":")[0]
		if host != "" {
			return host
		}
	}

	return "unknown"
}

func New(cfg *config.Config) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	baseTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	var transport http.RoundTripper = baseTransport
	if DebugLog != nil {
		transport = &LoggingTransport{Transport: baseTransport}
	}

	client := &http.Client{
		Timeout:   cfg.Timeout(),
		Transport: transport,
	}

	return &Session{
		Client:    client,
		Transport: transport,
		Config:    cfg,
	}, nil
}
