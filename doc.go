// Package mrpc is a message-oriented unary RPC server front-end.
//
// Applications declare processors, handlers keyed by the name of the request
// type they are interested in, and mrpc binds each processor to a wire
// method, routes incoming calls to it through an interceptor chain, and
// hands the processor an asynchronous, exactly-once reply capability.
//
// Message construction never uses reflection. A MarshallerRegistry maps each
// interest to a request factory and a response factory, and a Codec carries
// message bodies on the wire (CBOR by default). Registering a processor
// whose interest has no factories fails; registering two processors for the
// same interest fails.
//
// The transport underneath is a narrow seam. Bindings live in a catalog
// consulted on every call, so processors may be registered before or after
// the server starts without touching the transport. QUIC/HTTP3 and gRPC
// transports live in their own packages and register themselves by scheme;
// InprocTransport serves tests and embedded use.
//
// A minimal server:
//
//	reg := mrpc.NewMarshallerRegistry()
//	reg.Register("echo.Request",
//		func() any { return new(EchoRequest) },
//		func() any { return new(EchoResponse) })
//
//	srv := mrpc.NewServer(
//		mrpc.WithMarshallers(reg),
//		mrpc.WithTransport(tr),
//	)
//
//	srv.RegisterProcessor(mrpc.ProcessorFunc("echo.Request",
//		func(ctx context.Context, call *mrpc.Call) {
//			req := call.Request().(*EchoRequest)
//			call.SendResponse(&EchoResponse{Payload: req.Payload})
//		}))
//
//	if err := srv.Init(ctx); err != nil {
//		return err
//	}
//	defer srv.Shutdown(context.Background())
//
// SendResponse may be called from any goroutine; the transport waits for it
// with the call's context, so a processor can return immediately and answer
// later.
package mrpc
