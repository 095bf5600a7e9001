package http

import "context"

// Handler serves one request. Handlers may block; every connection runs on its own goroutine.
type Handler interface {
	Serve(ctx context.Context, req *Request) Result
}

type HandlerFunc func(ctx context.Context, req *Request) Result

func (f HandlerFunc) Serve(ctx context.Context, req *Request) Result {
	return f(ctx, req)
}

// TextHandler adapts a plain function returning a body into a Handler.
func TextHandler(fn func(req *Request) string) Handler {
	return HandlerFunc(func(_ context.Context, req *Request) Result {
		return Text(fn(req))
	})
}

type resultKind uint8

const (
	resultHandled resultKind = iota
	resultPayload
	resultResponse
)

// Result tells the dispatcher what to do once a handler returns.
type Result struct {
	kind     resultKind
	payload  []byte
	response *Response
}

// Handled means the handler already wrote its own reply; the dispatcher writes nothing.
func Handled() Result {
	return Result{kind: resultHandled}
}

// Payload is wrapped into a default 200 response.
func Payload(body []byte) Result {
	return Result{kind: resultPayload, payload: body}
}

func Text(body string) Result {
	return Payload([]byte(body))
}

// Respond hands a fully formed response to the dispatcher.
func Respond(res *Response) Result {
	if res == nil {
		return Handled()
	}
	return Result{kind: resultResponse, response: res}
}

// reply returns the response to write, nil when the handler answered directly.
func (result Result) reply() *Response {
	switch result.kind {
	case resultPayload:
		return NewResponse(result.payload)
	case resultResponse:
		return result.response
	}
	return nil
}

// NotFoundHandler answers every request with 404.
var NotFoundHandler Handler = notFoundHandler{}

type notFoundHandler struct{}

func (notFoundHandler) Serve(_ context.Context, _ *Request) Result {
	return Respond(NewTextResponse("Not found").
		WithStatus(StatusNotFound).
		WithContentType("text/plain"))
}
