package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"

	"xdao.co/streams/internal/config"
	"xdao.co/streams/internal/logging"
	"xdao.co/streams/ledger"
	"xdao.co/streams/ledger/ledgerconfig"
	"xdao.co/streams/ledger/registry"

	_ "xdao.co/streams/ledger/grpcledger"
	_ "xdao.co/streams/ledger/localfs"
	_ "xdao.co/streams/ledger/memory"
	_ "xdao.co/streams/ledger/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// env is what every command gets besides its arguments.
type env struct {
	ctx    context.Context
	cfg    config.Config
	log    zerolog.Logger
	out    io.Writer
	errOut io.Writer
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 2
	}
	e := env{
		ctx:    ctx,
		cfg:    cfg,
		log:    logging.Configure("streams", logging.ProfileRuntime, cfg.Log.Level),
		out:    out,
		errOut: errOut,
	}

	switch args[0] {
	case "demo":
		return cmdDemo(e, args[1:])
	case "link":
		return cmdLink(e, args[1:])
	case "key":
		return cmdKey(e, args[1:])
	case "ledger":
		return cmdLedger(e, args[1:])
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "streams: access-controlled channels over a content-addressed ledger")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  streams demo [ledger flags] [--seed <seed>] [--scheme ed25519|dilithium3] [--mode strict|permissive] [--json] [--dump]")
	fmt.Fprintln(w, "  streams link derive --author-seed <seed> [--publisher-seed <seed>] [--seq <n>] [--parent <link>] [--scheme <s>]")
	fmt.Fprintln(w, "  streams link inspect <link>")
	fmt.Fprintln(w, "  streams key init --name <name> [--seed <seed>] [--scheme <s>] [--force]")
	fmt.Fprintln(w, "  streams key derive --from <name> --role <role> [--scheme <s>] [--force]")
	fmt.Fprintln(w, "  streams key list")
	fmt.Fprintln(w, "  streams key export --name <name> [--role <role>] [--scheme <s>]")
	fmt.Fprintln(w, "  streams ledger export [ledger flags] --out <file> [--label name=<link> ...] [<link> ...]")
	fmt.Fprintln(w, "  streams ledger import [ledger flags] --in <file> [--ignore-unknown]")
	fmt.Fprintln(w, "  streams ledger get [ledger flags] <link>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ledger flags:")
	fmt.Fprintln(w, "  --backend <name> plus that backend's options, or --ledger-config <file.toml>")
	fmt.Fprintln(w, "  --list-backends prints the backends compiled into this binary")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - defaults come from $STREAMS_CONFIG (TOML) and STREAMS_* variables")
	fmt.Fprintln(w, "  - demo and key init generate a random seed when none is given")
	fmt.Fprintln(w, "  - key files live under ~/.xdao/streams/keys unless keys.dir is set")
}

// ledgerFlags selects and opens a ledger, either one registered backend or a
// multi-backend ledger config file.
type ledgerFlags struct {
	fs           *flag.FlagSet
	backend      string
	file         string
	listBackends bool
	defaults     map[string]string
}

func (l *ledgerFlags) add(fs *flag.FlagSet, cfg config.Config) {
	l.fs = fs
	l.defaults = cfg.Ledger.Options
	fs.StringVar(&l.backend, "backend", cfg.Ledger.Backend, "Ledger backend name")
	fs.StringVar(&l.file, "ledger-config", cfg.Ledger.File, "Multi-backend ledger config (TOML); wins over --backend")
	fs.BoolVar(&l.listBackends, "list-backends", false, "List supported backends and exit")
	registry.RegisterFlags(fs, registry.UsageCLI)
}

// open merges configured options with flags set on the command line.
func (l *ledgerFlags) open(ctx context.Context) (ledger.Store, func() error, error) {
	if l.file != "" {
		lc, err := ledgerconfig.LoadFile(l.file)
		if err != nil {
			return nil, nil, err
		}
		return lc.Open(ctx, registry.UsageCLI, "")
	}

	known := map[string]bool{}
	for _, b := range registry.List(registry.UsageCLI) {
		if b.Name != l.backend {
			continue
		}
		for _, o := range b.Options {
			known[o.Name] = true
		}
	}
	opts := map[string]string{}
	for k, v := range l.defaults {
		if known[k] {
			opts[k] = v
		}
	}
	l.fs.Visit(func(f *flag.Flag) {
		if known[f.Name] {
			opts[f.Name] = f.Value.String()
		}
	})
	return registry.OpenWithConfig(ctx, l.backend, registry.UsageCLI, opts)
}

func printBackends(w io.Writer) {
	for _, b := range registry.List(registry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(w, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
	}
}

type multiString []string

func (m *multiString) String() string { return strings.Join(*m, ",") }

func (m *multiString) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return fmt.Errorf("empty value")
	}
	*m = append(*m, v)
	return nil
}
