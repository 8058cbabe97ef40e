package app

import (
	"context"
	"fmt"
	"strconv"

	"appbridge/pkg/proto"
)

// echoApp answers with the request body it was given, plus the method and
// path in response headers. It speaks the async contract directly and is
// served through the forward adapter.
func echoApp(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
	if scope.Kind != proto.KindHTTP {
		return proto.Violationf("unsupported scope kind %q", scope.Kind)
	}

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
			// end-of-input: respond with whatever arrived before it
			more = false
		default:
			return proto.Violationf("unexpected request message %T", msg)
		}
	}

	if len(body) == 0 {
		body = []byte(fmt.Sprintf("echo: %s %s\n", scope.Method, scope.Path))
	}
	err := send(ctx, proto.ResponseStart{
		Status: 200,
		Headers: []proto.HeaderPair{
			{Name: "content-type", Value: "text/plain; charset=utf-8"},
			{Name: "content-length", Value: strconv.Itoa(len(body))},
			{Name: "x-echo-method", Value: scope.Method},
			{Name: "x-echo-path", Value: scope.Path},
		},
	})
	if err != nil {
		return err
	}
	if err := send(ctx, proto.ResponseChunk{Body: body, More: true}); err != nil {
		return err
	}
	return send(ctx, proto.ResponseChunk{More: false})
}

// helloApp is a minimal application on the sync contract. It is wrapped by
// the reverse adapter and then back under the sync contract, so a single
// request crosses both adapters.
func helloApp(env *proto.Environ, start proto.StartResponse) (proto.BodyStream, error) {
	body := []byte("Hello from " + env.Vars["PATH_INFO"] + "\n")
	headers := []proto.HeaderPair{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
	}
	if _, err := start(proto.StatusLine(200), headers, nil); err != nil {
		return nil, err
	}
	return proto.Chunks(body), nil
}
