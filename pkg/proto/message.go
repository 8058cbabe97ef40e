package proto

// Message kinds are a closed set per direction: RequestMessage flows
// server -> application, ResponseMessage flows application -> server.
// The marker methods keep the sets sealed so the bridge state machines
// can switch exhaustively.

// RequestMessage is an inbound event delivered to an async application.
type RequestMessage interface{ requestMessage() }

// RequestChunk carries one slice of the request body. More reports
// whether further chunks follow.
type RequestChunk struct {
	Body []byte
	More bool
}

// Disconnect signals that no more request data will arrive. It is
// delivered exactly once at end of body.
type Disconnect struct{}

// LifespanStartup and LifespanShutdown are the lifecycle handshake
// events of the async contract.
type LifespanStartup struct{}
type LifespanShutdown struct{}

func (RequestChunk) requestMessage()     {}
func (Disconnect) requestMessage()       {}
func (LifespanStartup) requestMessage()  {}
func (LifespanShutdown) requestMessage() {}

// ResponseMessage is an outbound event emitted by an async application.
type ResponseMessage interface{ responseMessage() }

// ResponseStart opens the response: status code plus ordered headers.
// It must precede any ResponseChunk and may be sent only once.
type ResponseStart struct {
	Status  int
	Headers []HeaderPair
}

// ResponseChunk carries one slice of the response body. More=false
// marks the final chunk.
type ResponseChunk struct {
	Body []byte
	More bool
}

// ResponseDisconnect terminates the connection without further body.
type ResponseDisconnect struct{}

// WebSocketClose is the orderly close answer for socket-upgrade scopes,
// which the bridge does not translate.
type WebSocketClose struct {
	Code int
}

// LifespanStartupComplete and LifespanShutdownComplete answer the
// lifecycle handshake.
type LifespanStartupComplete struct{}
type LifespanShutdownComplete struct{}

// AppError ferries a captured application fault across the execution
// boundary. It is internal to the bridge and never a wire message.
type AppError struct {
	Fault *Fault
}

func (ResponseStart) responseMessage()            {}
func (ResponseChunk) responseMessage()            {}
func (ResponseDisconnect) responseMessage()       {}
func (WebSocketClose) responseMessage()           {}
func (LifespanStartupComplete) responseMessage()  {}
func (LifespanShutdownComplete) responseMessage() {}
func (AppError) responseMessage()                 {}
