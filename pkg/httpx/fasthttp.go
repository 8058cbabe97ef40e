package httpx

import (
	"bytes"
	"io"
	"strconv"

	"github.com/valyala/fasthttp"

	"appbridge/pkg/body"
	"appbridge/pkg/logger"
	"appbridge/pkg/proto"
)

// FastServeSync drives a synchronous-contract handler from a fasthttp
// server. The request body arrives fully buffered (fasthttp PostBody
// semantics), so the input handle reads from an in-memory chunk source.
func FastServeSync(h proto.SyncHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		env := environFromRequestCtx(ctx)

		started := false
		var write proto.WriteFunc = func(chunk []byte) (err error) {
			_, err = ctx.Write(chunk)
			return err
		}
		start := func(status string, headers []proto.HeaderPair, fault *proto.Fault) (proto.WriteFunc, error) {
			if fault != nil {
				logger.Error("bridged_request_fault", "path", string(ctx.Path()), "error", fault)
			}
			if started {
				return write, nil
			}
			code, err := proto.ParseStatusLine(status)
			if err != nil {
				return nil, err
			}
			started = true
			for _, hp := range headers {
				ctx.Response.Header.Add(hp.Name, hp.Value)
			}
			ctx.SetStatusCode(code)
			return write, nil
		}

		stream, err := h(env, start)
		if err != nil {
			logger.Error("sync_handler_failed", "path", string(ctx.Path()), "error", err)
			if !started {
				ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
			}
			return
		}
		defer func() {
			if c, ok := stream.(io.Closer); ok {
				_ = c.Close()
			}
		}()

		for {
			chunk, err := stream.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				logger.Error("response_stream_failed", "path", string(ctx.Path()), "error", err)
				if !started {
					ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
				}
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if _, err := ctx.Write(chunk); err != nil {
				return
			}
		}
	}
}

func environFromRequestCtx(ctx *fasthttp.RequestCtx) *proto.Environ {
	scheme := "http"
	if ctx.IsTLS() {
		scheme = "https"
	}
	vars := map[string]string{
		"REQUEST_METHOD":  string(ctx.Method()),
		"SCRIPT_NAME":     "",
		"PATH_INFO":       string(ctx.Path()),
		"QUERY_STRING":    string(ctx.URI().QueryString()),
		"SERVER_PROTOCOL": string(ctx.Request.Header.Protocol()),
		"REQUEST_SCHEME":  scheme,
	}

	host, port := splitHostPort(string(ctx.Host()), "80")
	vars["SERVER_NAME"] = host
	vars["SERVER_PORT"] = port
	rhost, rport := splitHostPort(ctx.RemoteAddr().String(), "0")
	vars["REMOTE_ADDR"] = rhost
	vars["REMOTE_PORT"] = rport

	bodyBytes := ctx.PostBody()
	vars["CONTENT_LENGTH"] = strconv.Itoa(len(bodyBytes))

	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := proto.EnvironKey(string(k))
		if key == "CONTENT_LENGTH" {
			return
		}
		if prev, ok := vars[key]; ok {
			vars[key] = prev + "," + string(v)
		} else {
			vars[key] = string(v)
		}
	})
	return &proto.Environ{Vars: vars, Input: body.FromReader(bytes.NewReader(bodyBytes))}
}
