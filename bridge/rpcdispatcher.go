// Package bridge adapts a foreign RPC framework's per-call goroutine into a
// corok.Dispatcher, so a gRPC/Connect handler can corok.Launch child
// coroutines that inherit the call's own cancellation — the one integration
// adapter SPEC_FULL.md §3 carves out of the otherwise out-of-scope "foreign
// dispatchers" bucket (spec.md §1 Non-goals). Minimal by design: one file,
// no protobuf schema of its own, grounded on the grpc.Server wiring in
// _examples/Azure-azure-storage-azcopy/grpcctl/server.go.
package bridge

import (
	"context"

	"google.golang.org/grpc"

	corok "github.com/ygrebnov/corok"
)

// CallDispatcher is a corok.Dispatcher that runs every task inline on
// whichever goroutine the RPC framework is already using to serve the call.
// It exists so handler code can still call corok.WithDispatcher/Launch/Async
// uniformly, even though there is nothing to dispatch to beyond "this
// goroutine" — the call's own cancellation (ctx.Done() firing when the
// client disconnects or the server enforces a deadline) is what makes this
// more than a rename of ImmediateDispatcher.
type CallDispatcher struct{}

func (CallDispatcher) IsDispatchNeeded(context.Context) bool { return false }

func (CallDispatcher) Dispatch(_ context.Context, task func()) { task() }

// WithCallContext returns ctx with a CallDispatcher installed as the current
// Dispatcher, for use inside a gRPC/Connect handler: child coroutines
// corok.Launch/corok.Async'd from the returned context inherit the RPC
// call's cancellation because their Job tree's root context is the call's
// own ctx.
func WithCallContext(ctx context.Context) context.Context {
	return corok.WithDispatcher(ctx, CallDispatcher{})
}

// UnaryServerInterceptor installs a CallDispatcher on every unary RPC's
// context before invoking the handler, so handlers never have to call
// WithCallContext themselves. Grounded on the grpc.Server construction in
// _examples/Azure-azure-storage-azcopy/grpcctl/server.go, adapted from a
// concrete service registration into a generic interceptor.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		return handler(WithCallContext(ctx), req)
	}
}

// StreamServerInterceptor is UnaryServerInterceptor's streaming counterpart,
// wrapping the grpc.ServerStream so handler code reading stream.Context()
// observes the CallDispatcher too.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		stream grpc.ServerStream,
		_ *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		return handler(srv, &dispatcherServerStream{ServerStream: stream})
	}
}

type dispatcherServerStream struct {
	grpc.ServerStream
}

func (s *dispatcherServerStream) Context() context.Context {
	return WithCallContext(s.ServerStream.Context())
}
