// Package bridge implements the adapter pair that lets an application
// written for either invocation contract be driven through the other:
//
//   - SyncBridge wraps an async message-passing application and exposes
//     the synchronous pull contract, driving the application as a task
//     on a background loop and translating its messages into a lazily
//     produced body stream.
//   - AsyncBridge wraps a synchronous application and exposes the async
//     contract, running the application on a bounded worker pool and
//     relaying its emissions through a single ordered sender.
//
// Both adapters are built from the pkg/exchange rendezvous and preserve
// message order, backpressure and failure propagation across the
// execution-model boundary.
package bridge
