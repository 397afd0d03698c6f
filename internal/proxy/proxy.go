// Package proxy forwards authenticated traffic to the downstream resource
// API. Token verification happens in middleware before anything here runs,
// so an invalid caller never causes a downstream call.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"collabflow/internal/config"
	"collabflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// hopHeaders are connection-scoped and must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// bodyMethods are the methods for which a JSON body is re-emitted
// explicitly. Upstream body-parsing middleware consumes the inbound
// stream, so the proxy re-serializes rather than piping it through.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

type Forwarder struct {
	target  *url.URL
	prefix  string
	timeout time.Duration
	client  *http.Client
}

func NewForwarder(cfg config.ProxyConfig) (*Forwarder, error) {
	target, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("proxy target must be an absolute URL")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Forwarder{
		target:  target,
		prefix:  strings.TrimSuffix(cfg.PathPrefix, "/"),
		timeout: timeout,
		client: &http.Client{
			// Both the socket and the end-to-end exchange are bounded.
			Timeout: timeout,
		},
	}, nil
}

// RewritePath prepends the resource API's prefix unless the inbound path
// already carries it. Idempotent: prefix+prefix is never produced.
func (f *Forwarder) RewritePath(path string) string {
	if f.prefix == "" {
		return path
	}
	if path == f.prefix || strings.HasPrefix(path, f.prefix+"/") {
		return path
	}
	return f.prefix + path
}

// Handle is the catch-all gin handler.
func (f *Forwarder) Handle(c *gin.Context) {
	outPath := f.RewritePath(c.Request.URL.Path)

	outURL := *f.target
	outURL.Path = strings.TrimSuffix(f.target.Path, "/") + outPath
	outURL.RawQuery = c.Request.URL.RawQuery

	body, err := f.outboundBody(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Request body is not valid JSON", "details": gin.H{}})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), f.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, c.Request.Method, outURL.String(), reader)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": gin.H{}})
		return
	}

	copyHeaders(req.Header, c.Request.Header)
	// Session and CSRF cookies must not leak downstream.
	req.Header.Del("Cookie")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Length", strconv.Itoa(len(body)))
		req.ContentLength = int64(len(body))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.writeBadGateway(c, outPath, err)
		return
	}
	defer resp.Body.Close()

	header := c.Writer.Header()
	for k, vv := range resp.Header {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		// Headers are gone; nothing more can be written.
		logger.FromGin(c).Warn("proxy response copy aborted", "path", outPath, "err", err)
	}
}

// outboundBody reads and re-emits the request body for mutating methods.
// An explicitly empty JSON object is forwarded as {}, not dropped; only a
// zero-length body is omitted.
func (f *Forwarder) outboundBody(r *http.Request) ([]byte, error) {
	if !bodyMethods[r.Method] || r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("invalid json body")
	}
	return raw, nil
}

func (f *Forwarder) writeBadGateway(c *gin.Context, path string, err error) {
	// Never write a second response if headers already went out.
	if c.Writer.Written() {
		logger.FromGin(c).Error("downstream failed mid-response", "path", path, "err", err)
		return
	}
	logger.FromGin(c).Error("downstream unreachable", "path", path, "err", err)
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
		"error":   "Bad Gateway",
		"message": "Unable to reach downstream service",
		"path":    path,
	})
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
