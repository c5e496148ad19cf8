package server

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/any-hub/pagecache/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewOriginClient 返回共享 http.Client，供所有需要回源的页面使用。
func NewOriginClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.OriginTimeout.DurationValue() > 0 {
		timeout = cfg.Global.OriginTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// hopByHopHeaders 是回源时固定丢弃的逐跳头（RFC 7230 §6.1）：它们只描述客户端
// 与本服务之间的连接，转发给源站会破坏回源连接的复用。
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection", // 非标准字段，但部分客户端仍会发送
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HopByHopHeaders 返回回源请求必须丢弃的头集合：固定的逐跳头，加上客户端
// Connection 头中点名的字段。键为规范化后的头名。
func HopByHopHeaders(connection string) map[string]struct{} {
	set := make(map[string]struct{}, len(hopByHopHeaders)+2)
	for _, key := range hopByHopHeaders {
		set[key] = struct{}{}
	}
	for _, token := range strings.Split(connection, ",") {
		if name := strings.TrimSpace(token); name != "" {
			set[textproto.CanonicalMIMEHeaderKey(name)] = struct{}{}
		}
	}
	return set
}
