package proto

import (
	"sort"
	"strconv"
	"strings"
)

// EnvironKey maps a wire header name to its Environ metadata key:
// content-length and content-type get their bare CGI names, everything
// else is prefixed HTTP_ with dashes folded to underscores.
func EnvironKey(name string) string {
	switch strings.ToLower(name) {
	case "content-length":
		return "CONTENT_LENGTH"
	case "content-type":
		return "CONTENT_TYPE"
	}
	return "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// HeaderName is the reverse of EnvironKey: an Environ metadata key back
// to its lower-cased dashed wire name, or "" when the key does not name
// a header.
func HeaderName(key string) string {
	switch key {
	case "CONTENT_LENGTH":
		return "content-length"
	case "CONTENT_TYPE":
		return "content-type"
	}
	if rest, ok := strings.CutPrefix(key, "HTTP_"); ok {
		return strings.ToLower(strings.ReplaceAll(rest, "_", "-"))
	}
	return ""
}

// BuildEnviron folds a Scope plus an input body handle into the sync
// contract's request mapping. Repeated header names are comma-joined in
// arrival order under one key.
func BuildEnviron(scope *Scope, input InputStream) *Environ {
	path := scope.Path
	if scope.RootPath != "" && strings.HasPrefix(path, scope.RootPath) {
		path = path[len(scope.RootPath):]
	}
	vars := map[string]string{
		"REQUEST_METHOD":  scope.Method,
		"SCRIPT_NAME":     scope.RootPath,
		"PATH_INFO":       path,
		"QUERY_STRING":    string(scope.Query),
		"SERVER_PROTOCOL": "HTTP/" + scope.Proto,
		"REQUEST_SCHEME":  scope.Scheme,
	}
	if vars["REQUEST_SCHEME"] == "" {
		vars["REQUEST_SCHEME"] = "http"
	}

	// server name/port are required on the sync side, not the async side
	server := scope.Server
	if server == nil {
		server = &Addr{Host: "localhost", Port: 80}
	}
	vars["SERVER_NAME"] = server.Host
	vars["SERVER_PORT"] = strconv.Itoa(server.Port)
	if scope.Client != nil {
		vars["REMOTE_ADDR"] = scope.Client.Host
		vars["REMOTE_PORT"] = strconv.Itoa(scope.Client.Port)
	}

	for _, h := range scope.Headers {
		key := EnvironKey(h.Name)
		if prev, ok := vars[key]; ok {
			vars[key] = prev + "," + h.Value
		} else {
			vars[key] = h.Value
		}
	}
	return &Environ{Vars: vars, Input: input, Scope: scope}
}

// BuildScope derives a Scope from a sync-contract request mapping. When
// the Environ was itself built from a Scope, that original is returned
// unchanged; headers never change mid-request.
func BuildScope(env *Environ) *Scope {
	if env.Scope != nil {
		return env.Scope
	}
	vars := env.Vars
	proto := "1.0"
	if sp := vars["SERVER_PROTOCOL"]; sp != "" {
		if _, v, ok := strings.Cut(sp, "/"); ok {
			proto = v
		}
	}
	scheme := vars["REQUEST_SCHEME"]
	if scheme == "" {
		scheme = "http"
	}

	var headers []HeaderPair
	for key, value := range vars {
		if name := HeaderName(key); name != "" {
			headers = append(headers, HeaderPair{Name: name, Value: value})
		}
	}
	sortHeaders(headers)

	scope := &Scope{
		Kind:     KindHTTP,
		Proto:    proto,
		Method:   vars["REQUEST_METHOD"],
		Scheme:   scheme,
		Path:     vars["PATH_INFO"],
		RawPath:  []byte(vars["PATH_INFO"]),
		RootPath: vars["SCRIPT_NAME"],
		Query:    []byte(vars["QUERY_STRING"]),
		Headers:  headers,
	}
	if host := vars["SERVER_NAME"]; host != "" {
		port, _ := strconv.Atoi(vars["SERVER_PORT"])
		scope.Server = &Addr{Host: host, Port: port}
	}
	if host := vars["REMOTE_ADDR"]; host != "" {
		port, _ := strconv.Atoi(vars["REMOTE_PORT"])
		scope.Client = &Addr{Host: host, Port: port}
	}
	return scope
}

// sortHeaders keeps scope headers deterministic when rebuilt from an
// unordered mapping.
func sortHeaders(headers []HeaderPair) {
	sort.SliceStable(headers, func(i, j int) bool { return headers[i].Name < headers[j].Name })
}

// ContentLength reads the declared request body length from an Environ.
// Absent or malformed values default to 0.
func (e *Environ) ContentLength() int64 {
	raw := e.Vars["CONTENT_LENGTH"]
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
