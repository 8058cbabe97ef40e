// Package httpx binds the bridge's application contracts to real HTTP
// servers: net/http and fasthttp front ends for a synchronous handler,
// plus the middleware the demo server composes around them.
package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"appbridge/pkg/body"
	"appbridge/pkg/proto"
)

// EnvironFromRequest folds a net/http request into the sync contract's
// request mapping. Repeated header values comma-join under one key.
func EnvironFromRequest(r *http.Request) *proto.Environ {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	vars := map[string]string{
		"REQUEST_METHOD":  r.Method,
		"SCRIPT_NAME":     "",
		"PATH_INFO":       r.URL.Path,
		"QUERY_STRING":    r.URL.RawQuery,
		"SERVER_PROTOCOL": r.Proto,
		"REQUEST_SCHEME":  scheme,
	}

	host, port := splitHostPort(r.Host, "80")
	vars["SERVER_NAME"] = host
	vars["SERVER_PORT"] = port
	if r.RemoteAddr != "" {
		rhost, rport := splitHostPort(r.RemoteAddr, "0")
		vars["REMOTE_ADDR"] = rhost
		vars["REMOTE_PORT"] = rport
	}
	if r.ContentLength >= 0 {
		vars["CONTENT_LENGTH"] = strconv.FormatInt(r.ContentLength, 10)
	}

	for name, values := range r.Header {
		key := proto.EnvironKey(name)
		if key == "CONTENT_LENGTH" {
			continue
		}
		joined := strings.Join(values, ",")
		if prev, ok := vars[key]; ok {
			joined = prev + "," + joined
		}
		vars[key] = joined
	}
	return &proto.Environ{Vars: vars, Input: body.FromReader(r.Body)}
}

func splitHostPort(addr, defPort string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defPort
	}
	return host, port
}
