package main

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"appbridge/pkg/bridge"
	"appbridge/pkg/httpx"
	"appbridge/pkg/proto"
)

// helloApp is a plain pull-contract app: the reverse adapter wraps it into
// the message-passing contract and the forward adapter unwraps it again,
// so every request crosses both adapters.
func helloApp(env *proto.Environ, start proto.StartResponse) (proto.BodyStream, error) {
	body := []byte("hello\n")
	headers := []proto.HeaderPair{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
	}
	if _, err := start(proto.StatusLine(200), headers, nil); err != nil {
		return nil, err
	}
	return proto.Chunks(body), nil
}

func main() {
	addr := flag.String("addr", ":8081", "listen address for fasthttp echo POC")
	flag.Parse()

	rev := bridge.NewAsyncBridge(helloApp)
	defer rev.Close()
	fwd := bridge.NewSyncBridge(rev.Invoke)
	defer fwd.Close()

	fmt.Printf("fasthttp echo POC listening on %s\n", *addr)
	srv := &fasthttp.Server{
		Handler:            httpx.FastServeSync(fwd.Invoke),
		Name:               "appbridge-fasthttp-poc",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("fasthttp server exit: %v\n", err)
	}
}
