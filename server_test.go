package mrpc

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"miren.dev/mrpc/pkg/cond"
)

type echoRequest struct {
	Payload string
}

type echoResponse struct {
	Payload string
}

const echoInterest = "echo.Request"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoRegistry() *MarshallerRegistry {
	reg := NewMarshallerRegistry()
	reg.Register(echoInterest,
		func() any { return new(echoRequest) },
		func() any { return new(echoResponse) },
	)

	return reg
}

func echoProcessor() Processor {
	return ProcessorFunc(echoInterest, func(ctx context.Context, call *Call) {
		req := call.Request().(*echoRequest)
		call.SendResponse(&echoResponse{Payload: req.Payload})
	})
}

// flakyTransport fails its first start. Used to check that a failed start
// leaves the server retryable.
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	started  bool
}

func (t *flakyTransport) Start(ctx context.Context, d Dispatcher) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failures > 0 {
		t.failures--
		return errors.New("bind failed")
	}

	t.started = true
	return nil
}

func (t *flakyTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = false
	return nil
}

func (t *flakyTransport) Port() int { return 0 }

type portTransport struct {
	port int
}

func (t portTransport) Start(ctx context.Context, d Dispatcher) error { return nil }
func (t portTransport) Shutdown(ctx context.Context) error           { return nil }
func (t portTransport) Port() int                                    { return t.port }

func TestServerRegistration(t *testing.T) {
	t.Run("registers a processor with both marshallers present", func(t *testing.T) {
		r := require.New(t)

		srv := NewServer(
			WithMarshallers(echoRegistry()),
			WithLogger(testLogger()),
		)

		r.NoError(srv.RegisterProcessor(echoProcessor()))

		r.Equal([]string{FullMethod(echoInterest)}, srv.catalog.Methods())
	})

	t.Run("rejects an interest with no request marshaller", func(t *testing.T) {
		r := require.New(t)

		reg := NewMarshallerRegistry()
		reg.RegisterResponse(echoInterest, func() any { return new(echoResponse) })

		srv := NewServer(WithMarshallers(reg), WithLogger(testLogger()))

		err := srv.RegisterProcessor(echoProcessor())
		r.ErrorIs(err, cond.ErrInvalidConfig{})

		r.Empty(srv.catalog.Methods())
	})

	t.Run("rejects an interest with no response marshaller", func(t *testing.T) {
		r := require.New(t)

		reg := NewMarshallerRegistry()
		reg.RegisterRequest(echoInterest, func() any { return new(echoRequest) })

		srv := NewServer(WithMarshallers(reg), WithLogger(testLogger()))

		err := srv.RegisterProcessor(echoProcessor())
		r.ErrorIs(err, cond.ErrInvalidConfig{})
	})

	t.Run("rejects a duplicate interest and keeps the first binding", func(t *testing.T) {
		r := require.New(t)

		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(echoRegistry()),
			WithTransport(tr),
			WithLogger(testLogger()),
		)

		r.NoError(srv.RegisterProcessor(echoProcessor()))

		second := ProcessorFunc(echoInterest, func(ctx context.Context, call *Call) {
			call.SendResponse(&echoResponse{Payload: "usurper"})
		})

		err := srv.RegisterProcessor(second)
		r.ErrorIs(err, cond.ErrConflict{})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		var resp echoResponse
		r.NoError(tr.Client().Call(ctx, echoInterest, &echoRequest{Payload: "hello"}, &resp))
		r.Equal("hello", resp.Payload)
	})

	t.Run("rejects an empty interest", func(t *testing.T) {
		r := require.New(t)

		srv := NewServer(WithLogger(testLogger()))

		err := srv.RegisterProcessor(ProcessorFunc("", func(context.Context, *Call) {}))
		r.ErrorIs(err, cond.ErrInvalidConfig{})
	})

	t.Run("accepts registration after init", func(t *testing.T) {
		r := require.New(t)

		reg := echoRegistry()
		reg.Register("late.Request",
			func() any { return new(echoRequest) },
			func() any { return new(echoResponse) },
		)

		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(reg),
			WithTransport(tr),
			WithLogger(testLogger()),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		late := ProcessorFunc("late.Request", func(ctx context.Context, call *Call) {
			call.SendResponse(&echoResponse{Payload: "late"})
		})
		r.NoError(srv.RegisterProcessor(late))

		var resp echoResponse
		r.NoError(tr.Client().Call(ctx, "late.Request", &echoRequest{}, &resp))
		r.Equal("late", resp.Payload)
	})
}

func TestServerLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("second init fails and the first keeps serving", func(t *testing.T) {
		r := require.New(t)

		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(echoRegistry()),
			WithTransport(tr),
			WithLogger(testLogger()),
		)
		r.NoError(srv.RegisterProcessor(echoProcessor()))

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		err := srv.Init(ctx)
		r.ErrorIs(err, cond.ErrIllegalState{})

		var resp echoResponse
		r.NoError(tr.Client().Call(ctx, echoInterest, &echoRequest{Payload: "still up"}, &resp))
		r.Equal("still up", resp.Payload)
	})

	t.Run("shutdown is idempotent and a no-op before init", func(t *testing.T) {
		r := require.New(t)

		srv := NewServer(
			WithTransport(NewInprocTransport()),
			WithLogger(testLogger()),
		)

		r.NoError(srv.Shutdown(ctx))

		r.NoError(srv.Init(ctx))
		r.NoError(srv.Shutdown(ctx))
		r.NoError(srv.Shutdown(ctx))
	})

	t.Run("restart after shutdown", func(t *testing.T) {
		r := require.New(t)

		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(echoRegistry()),
			WithTransport(tr),
			WithLogger(testLogger()),
		)
		r.NoError(srv.RegisterProcessor(echoProcessor()))

		r.NoError(srv.Init(ctx))
		r.NoError(srv.Shutdown(ctx))

		err := tr.Client().Call(ctx, echoInterest, &echoRequest{}, &echoResponse{})
		r.ErrorIs(err, cond.ErrClosed{})

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		var resp echoResponse
		r.NoError(tr.Client().Call(ctx, echoInterest, &echoRequest{Payload: "again"}, &resp))
		r.Equal("again", resp.Payload)
	})

	t.Run("failed start leaves the server stopped and retryable", func(t *testing.T) {
		r := require.New(t)

		tr := &flakyTransport{failures: 1}
		srv := NewServer(WithTransport(tr), WithLogger(testLogger()))

		err := srv.Init(ctx)
		r.Error(err)
		r.ErrorContains(err, "starting transport")
		r.Equal(0, srv.BoundPort())

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		r.True(tr.started)
	})

	t.Run("concurrent inits admit exactly one", func(t *testing.T) {
		r := require.New(t)

		srv := NewServer(
			WithTransport(NewInprocTransport()),
			WithLogger(testLogger()),
		)

		const attempts = 8

		errs := make(chan error, attempts)

		var wg sync.WaitGroup
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- srv.Init(ctx)
			}()
		}
		wg.Wait()
		close(errs)

		var ok, failed int
		for err := range errs {
			if err == nil {
				ok++
			} else {
				r.ErrorIs(err, cond.ErrIllegalState{})
				failed++
			}
		}

		r.Equal(1, ok)
		r.Equal(attempts-1, failed)

		srv.Shutdown(ctx)
	})

	t.Run("init without a transport fails", func(t *testing.T) {
		r := require.New(t)

		srv := NewServer(WithLogger(testLogger()))

		err := srv.Init(ctx)
		r.ErrorIs(err, cond.ErrInvalidConfig{})
	})

	t.Run("bound port follows the server state", func(t *testing.T) {
		r := require.New(t)

		srv := NewServer(
			WithTransport(portTransport{port: 4711}),
			WithLogger(testLogger()),
		)

		r.Equal(0, srv.BoundPort())

		r.NoError(srv.Init(ctx))
		r.Equal(4711, srv.BoundPort())

		r.NoError(srv.Shutdown(ctx))
		r.Equal(0, srv.BoundPort())
	})
}

func TestServerDispatch(t *testing.T) {
	newEchoServer := func(t *testing.T) (*Server, *InprocTransport) {
		t.Helper()

		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(echoRegistry()),
			WithTransport(tr),
			WithLogger(testLogger()),
		)

		require.NoError(t, srv.RegisterProcessor(echoProcessor()))
		require.NoError(t, srv.Init(context.Background()))

		t.Cleanup(func() { srv.Shutdown(context.Background()) })

		return srv, tr
	}

	t.Run("round trips a call", func(t *testing.T) {
		r := require.New(t)

		_, tr := newEchoServer(t)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var resp echoResponse
		r.NoError(tr.Client().Call(ctx, echoInterest, &echoRequest{Payload: "ping"}, &resp))
		r.Equal("ping", resp.Payload)
	})

	t.Run("unknown method is not found", func(t *testing.T) {
		r := require.New(t)

		_, tr := newEchoServer(t)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var resp echoResponse
		err := tr.Client().Call(ctx, "no.Such", &echoRequest{}, &resp)
		r.ErrorIs(err, cond.ErrNotFound{})
	})

	t.Run("garbage body is reported as corruption", func(t *testing.T) {
		r := require.New(t)

		srv, _ := newEchoServer(t)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := srv.Dispatch(ctx, FullMethod(echoInterest), []byte{0xff, 0x00, 0x13})
		r.ErrorIs(err, cond.ErrCorruption{})
	})

	t.Run("response can arrive from another goroutine", func(t *testing.T) {
		r := require.New(t)

		reg := echoRegistry()
		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(reg),
			WithTransport(tr),
			WithLogger(testLogger()),
		)

		async := ProcessorFunc(echoInterest, func(ctx context.Context, call *Call) {
			req := call.Request().(*echoRequest)

			go func() {
				time.Sleep(20 * time.Millisecond)
				call.SendResponse(&echoResponse{Payload: req.Payload + " (later)"})
			}()
		})

		r.NoError(srv.RegisterProcessor(async))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		var resp echoResponse
		r.NoError(tr.Client().Call(ctx, echoInterest, &echoRequest{Payload: "ping"}, &resp))
		r.Equal("ping (later)", resp.Payload)
	})

	t.Run("second send response fails and only the first is delivered", func(t *testing.T) {
		r := require.New(t)

		reg := echoRegistry()
		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(reg),
			WithTransport(tr),
			WithLogger(testLogger()),
		)

		sendErrs := make(chan error, 2)

		double := ProcessorFunc(echoInterest, func(ctx context.Context, call *Call) {
			sendErrs <- call.SendResponse(&echoResponse{Payload: "first"})
			sendErrs <- call.SendResponse(&echoResponse{Payload: "second"})
		})

		r.NoError(srv.RegisterProcessor(double))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		var resp echoResponse
		r.NoError(tr.Client().Call(ctx, echoInterest, &echoRequest{}, &resp))
		r.Equal("first", resp.Payload)

		r.NoError(<-sendErrs)
		r.ErrorIs(<-sendErrs, cond.ErrIllegalState{})
	})

	t.Run("connection access is unsupported", func(t *testing.T) {
		r := require.New(t)

		reg := echoRegistry()
		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(reg),
			WithTransport(tr),
			WithLogger(testLogger()),
		)

		connErr := make(chan error, 1)

		p := ProcessorFunc(echoInterest, func(ctx context.Context, call *Call) {
			_, err := call.Connection()
			connErr <- err
			call.SendResponse(&echoResponse{})
		})

		r.NoError(srv.RegisterProcessor(p))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		r.NoError(tr.Client().Call(ctx, echoInterest, &echoRequest{}, &echoResponse{}))
		r.ErrorIs(<-connErr, cond.ErrUnsupported{})
	})

	t.Run("remote address is the transport's", func(t *testing.T) {
		r := require.New(t)

		reg := echoRegistry()
		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(reg),
			WithTransport(tr),
			WithLogger(testLogger()),
		)

		remote := make(chan string, 1)

		p := ProcessorFunc(echoInterest, func(ctx context.Context, call *Call) {
			remote <- call.RemoteAddr()
			call.SendResponse(&echoResponse{})
		})

		r.NoError(srv.RegisterProcessor(p))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		r.NoError(tr.Client().Call(ctx, echoInterest, &echoRequest{}, &echoResponse{}))
		r.Equal("inproc", <-remote)
	})

	t.Run("a silent processor times out with the caller's context", func(t *testing.T) {
		r := require.New(t)

		reg := echoRegistry()
		tr := NewInprocTransport()
		srv := NewServer(
			WithMarshallers(reg),
			WithTransport(tr),
			WithLogger(testLogger()),
		)

		silent := ProcessorFunc(echoInterest, func(ctx context.Context, call *Call) {})

		r.NoError(srv.RegisterProcessor(silent))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		r.NoError(srv.Init(ctx))
		defer srv.Shutdown(ctx)

		callCtx, callCancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer callCancel()

		err := tr.Client().Call(callCtx, echoInterest, &echoRequest{}, &echoResponse{})
		r.ErrorIs(err, context.DeadlineExceeded)
	})
}

func TestDispatchRemoteAddr(t *testing.T) {
	r := require.New(t)

	srv := NewServer(
		WithMarshallers(echoRegistry()),
		WithLogger(testLogger()),
	)

	remote := make(chan string, 1)

	p := ProcessorFunc(echoInterest, func(ctx context.Context, call *Call) {
		remote <- call.RemoteAddr()
		call.SendResponse(&echoResponse{})
	})

	r.NoError(srv.RegisterProcessor(p))

	body, err := CBORCodec{}.Marshal(&echoRequest{})
	r.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// The address comes back exactly as the transport recorded it.
	_, err = srv.Dispatch(WithRemoteAddr(ctx, "1.2.3.4:5"), FullMethod(echoInterest), body)
	r.NoError(err)
	r.Equal("1.2.3.4:5", <-remote)
}

func TestDispatchNormalizesChainErrors(t *testing.T) {
	r := require.New(t)

	eof := func(next Handler) Handler {
		return func(ctx context.Context, call *Call) error {
			return io.EOF
		}
	}

	srv := NewServer(
		WithMarshallers(echoRegistry()),
		WithLogger(testLogger()),
		WithInterceptors(eof),
	)

	r.NoError(srv.RegisterProcessor(echoProcessor()))

	body, err := CBORCodec{}.Marshal(&echoRequest{})
	r.NoError(err)

	// An EOF escaping the chain reaches transports as a closed error, so
	// they have a taxonomy code to put on the wire.
	_, err = srv.Dispatch(context.Background(), FullMethod(echoInterest), body)
	r.ErrorIs(err, cond.ErrClosed{})
}
