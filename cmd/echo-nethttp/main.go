package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"appbridge/pkg/bridge"
	"appbridge/pkg/httpx"
	"appbridge/pkg/proto"
)

// echoApp echoes the request body back on the message-passing contract.
func echoApp(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
	var body []byte
	for more := true; more; {
		msg, err := receive(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case proto.RequestChunk:
			body = append(body, m.Body...)
			more = m.More
		case proto.Disconnect:
			more = false
		default:
			return proto.Violationf("unexpected request message %T", msg)
		}
	}
	err := send(ctx, proto.ResponseStart{
		Status:  200,
		Headers: []proto.HeaderPair{{Name: "content-type", Value: "application/octet-stream"}},
	})
	if err != nil {
		return err
	}
	return send(ctx, proto.ResponseChunk{Body: body, More: false})
}

func main() {
	addr := flag.String("addr", ":8082", "listen address for net/http echo POC")
	flag.Parse()

	b := bridge.NewSyncBridge(echoApp)
	defer b.Close()

	mux := http.NewServeMux()
	mux.Handle("/", httpx.ServeSync(b.Invoke))

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	fmt.Printf("net/http echo POC listening on %s\n", *addr)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Printf("net/http server exit: %v\n", err)
	}
}
