package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"miren.dev/mrpc"
	"miren.dev/mrpc/etcdreg"
	"miren.dev/mrpc/interceptor"
	"miren.dev/mrpc/observability"
	"miren.dev/mrpc/pkg/idgen"

	// Register the transport schemes.
	_ "miren.dev/mrpc/grpctransport"
	_ "miren.dev/mrpc/quictransport"
)

// serveConfig is the YAML shape accepted by --config. Flags set on the
// command line override file values.
type serveConfig struct {
	Listen      string   `yaml:"listen"`
	Transport   string   `yaml:"transport"`
	MetricsAddr string   `yaml:"metrics_addr"`
	Etcd        []string `yaml:"etcd"`
	Trace       bool     `yaml:"trace"`
}

type ServeCommand struct{}

func (c *ServeCommand) Synopsis() string {
	return "Run an mrpc server"
}

func (c *ServeCommand) Help() string {
	return strings.TrimSpace(`
Usage: mrpcd serve [options]

  Runs an mrpc server with a demo echo processor registered.

Options:
  --listen ADDR         Listen address (default "localhost:0")
  --transport SCHEME    Transport scheme: quic or grpc (default "quic")
  --metrics-addr ADDR   Serve Prometheus metrics over HTTP on ADDR
  --config FILE         Read defaults from a YAML config file
  --etcd ENDPOINTS      Announce this server in etcd (comma separated)
  --trace               Export traces to stdout
`)
}

func (c *ServeCommand) Run(args []string) int {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)

	listen := fs.String("listen", "localhost:0", "listen address")
	transport := fs.String("transport", "quic", "transport scheme")
	metricsAddr := fs.String("metrics-addr", "", "metrics address")
	configPath := fs.String("config", "", "config file")
	etcdEps := fs.StringSlice("etcd", nil, "etcd endpoints")
	trace := fs.Bool("trace", false, "export traces to stdout")

	err := fs.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg := serveConfig{
		Listen:      *listen,
		Transport:   *transport,
		MetricsAddr: *metricsAddr,
		Etcd:        *etcdEps,
		Trace:       *trace,
	}

	if *configPath != "" {
		err = loadConfig(*configPath, &cfg, fs)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	log := slog.Default()

	err = c.serve(log, cfg)
	if err != nil {
		log.Error("serve failed", "error", err)
		return 1
	}

	return 0
}

// loadConfig folds file values into cfg for every flag not set on the
// command line.
func loadConfig(path string, cfg *serveConfig, fs *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file serveConfig

	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if !fs.Changed("listen") && file.Listen != "" {
		cfg.Listen = file.Listen
	}
	if !fs.Changed("transport") && file.Transport != "" {
		cfg.Transport = file.Transport
	}
	if !fs.Changed("metrics-addr") && file.MetricsAddr != "" {
		cfg.MetricsAddr = file.MetricsAddr
	}
	if !fs.Changed("etcd") && len(file.Etcd) > 0 {
		cfg.Etcd = file.Etcd
	}
	if !fs.Changed("trace") {
		cfg.Trace = cfg.Trace || file.Trace
	}

	return nil
}

func (c *ServeCommand) serve(log *slog.Logger, cfg serveConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Trace {
		shutdown, err := observability.Setup(ctx, "mrpcd")
		if err != nil {
			return err
		}

		defer shutdown(context.Background())
	}

	tr, err := mrpc.NewTransport(cfg.Transport, cfg.Listen)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()

	reg := mrpc.NewMarshallerRegistry()
	reg.Register(EchoInterest,
		func() any { return new(EchoRequest) },
		func() any { return new(EchoResponse) },
	)

	serverID := idgen.New("srv")

	srv := mrpc.NewServer(
		mrpc.WithLogger(log),
		mrpc.WithMarshallers(reg),
		mrpc.WithTransport(tr),
		mrpc.WithInterceptors(
			interceptor.Recovery(log),
			interceptor.RequestID(),
			interceptor.Logging(log),
			interceptor.NewMetrics(promReg).Interceptor(),
		),
	)

	err = srv.RegisterProcessor(mrpc.ProcessorFunc(EchoInterest,
		func(ctx context.Context, call *mrpc.Call) {
			req := call.Request().(*EchoRequest)
			call.SendResponse(&EchoResponse{
				Payload:  req.Payload,
				ServedBy: serverID,
			})
		}))
	if err != nil {
		return err
	}

	err = srv.Init(ctx)
	if err != nil {
		return err
	}

	defer srv.Shutdown(context.Background())

	log.Info("serving", "transport", cfg.Transport, "port", srv.BoundPort(), "server", serverID)

	if len(cfg.Etcd) > 0 {
		ec, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return err
		}

		defer ec.Close()

		addr := fmt.Sprintf("%s://%s:%d", cfg.Transport, hostOf(cfg.Listen), srv.BoundPort())

		ann, err := etcdreg.Announce(ctx, log, ec, serverID, addr)
		if err != nil {
			return err
		}

		defer ann.Close(context.Background())
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

		ms := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		g.Go(func() error {
			log.Info("metrics listening", "addr", cfg.MetricsAddr)

			err := ms.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})

		g.Go(func() error {
			<-gctx.Done()

			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return ms.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()

	log.Info("shutting down")

	return err
}

func hostOf(listen string) string {
	host, _, err := net.SplitHostPort(listen)
	if err != nil || host == "" {
		return "localhost"
	}

	return host
}
