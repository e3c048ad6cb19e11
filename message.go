package echoserver

// ClientMessage is the union of requests a client may send. Exactly one
// concrete type backs each value; the unexported marker method keeps the
// set closed.
type ClientMessage interface {
	isClientMessage()
}

// EchoMessage asks the server to send Content back unchanged.
type EchoMessage struct {
	Content string
}

func (EchoMessage) isClientMessage() {}

// AddRequest asks the server for the sum of A and B. The addition wraps
// around on int32 overflow (two's complement).
type AddRequest struct {
	A int32
	B int32
}

func (AddRequest) isClientMessage() {}

// ServerMessage is the union of replies the server may send. Each response
// frame carries exactly one variant.
type ServerMessage interface {
	isServerMessage()
}

// EchoResponse carries the echoed content, byte-identical to the request.
type EchoResponse struct {
	Content string
}

func (EchoResponse) isServerMessage() {}

// AddResponse carries the computed sum.
type AddResponse struct {
	Result int32
}

func (AddResponse) isServerMessage() {}

// ErrorResponse reports a request the server could not interpret.
type ErrorResponse struct {
	Detail string
}

func (ErrorResponse) isServerMessage() {}
