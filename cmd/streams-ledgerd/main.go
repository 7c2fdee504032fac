package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"xdao.co/streams/internal/logging"
	"xdao.co/streams/ledger"
	"xdao.co/streams/ledger/grpcledger"
	"xdao.co/streams/ledger/ledgerconfig"
	"xdao.co/streams/ledger/registry"

	_ "xdao.co/streams/ledger/localfs"
	_ "xdao.co/streams/ledger/memory"
	_ "xdao.co/streams/ledger/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("streams-ledgerd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	backend := fs.String("backend", "localfs", "Ledger backend name")
	ledgerFile := fs.String("ledger-config", "", "Multi-backend ledger config (TOML); wins over --backend")
	logLevel := fs.String("log-level", "", "Log level (default info; STREAMS_LOG_LEVEL wins)")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")

	registry.RegisterFlags(fs, registry.UsageDaemon)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listBackends {
		for _, b := range registry.List(registry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(out, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}
	log := logging.Configure("streams-ledgerd", logging.ProfileRuntime, *logLevel)

	var (
		store   ledger.Store
		closeFn func() error
		err     error
	)
	if *ledgerFile != "" {
		var lc ledgerconfig.Config
		if lc, err = ledgerconfig.LoadFile(*ledgerFile); err == nil {
			store, closeFn, err = lc.Open(ctx, registry.UsageDaemon, "")
		}
	} else {
		store, closeFn, err = registry.Open(ctx, *backend, registry.UsageDaemon)
	}
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	log.Info().Str("addr", lis.Addr().String()).Str("backend", *backend).Msg("listening")
	if err := serve(ctx, lis, store, log); err != nil {
		log.Error().Err(err).Msg("serve failed")
		return 1
	}
	return 0
}

// serve runs the Ledger service on lis until ctx is done, then drains
// in-flight calls for a bounded time.
func serve(ctx context.Context, lis net.Listener, store ledger.Store, log zerolog.Logger) error {
	s := grpc.NewServer(grpc.UnaryInterceptor(logCalls(log)))
	grpcledger.RegisterLedgerServer(s, &grpcledger.Server{Store: store})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	}()

	err := s.Serve(lis)
	if ctx.Err() != nil {
		<-done
		log.Info().Msg("stopped")
		return nil
	}
	return err
}

func logCalls(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := log.Debug()
		if err != nil {
			ev = log.Debug().Err(err)
		}
		ev.Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("rpc")
		return resp, err
	}
}
