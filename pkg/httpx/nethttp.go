package httpx

import (
	"io"
	"net/http"

	"appbridge/pkg/logger"
	"appbridge/pkg/proto"
)

// ServeSync drives a synchronous-contract handler from a standard
// net/http server, streaming body chunks out with a flush per chunk.
func ServeSync(h proto.SyncHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := EnvironFromRequest(r)

		started := false
		var write proto.WriteFunc = func(chunk []byte) (err error) {
			_, err = w.Write(chunk)
			return err
		}
		start := func(status string, headers []proto.HeaderPair, fault *proto.Fault) (proto.WriteFunc, error) {
			if fault != nil {
				// out-of-band failure context for the error-reporting layer
				logger.Error("bridged_request_fault", "path", r.URL.Path, "error", fault)
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
				w.Header().Add(hp.Name, hp.Value)
			}
			w.WriteHeader(code)
			return write, nil
		}

		stream, err := h(env, start)
		if err != nil {
			logger.Error("sync_handler_failed", "path", r.URL.Path, "error", err)
			if !started {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}
		defer func() {
			if c, ok := stream.(io.Closer); ok {
				_ = c.Close()
			}
		}()

		flusher, _ := w.(http.Flusher)
		for {
			chunk, err := stream.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				logger.Error("response_stream_failed", "path", r.URL.Path, "error", err)
				if !started {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
}
