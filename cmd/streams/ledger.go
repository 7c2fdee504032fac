package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/streams/ledger"
	"xdao.co/streams/ledger/bundle"
	"xdao.co/streams/link"
	"xdao.co/streams/message"
)

func cmdLedger(e env, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(e.errOut, "usage: streams ledger <subcommand> ...")
		fmt.Fprintln(e.errOut, "subcommands: export, import, get")
		return 2
	}
	switch args[0] {
	case "export":
		return cmdLedgerExport(e, args[1:])
	case "import":
		return cmdLedgerImport(e, args[1:])
	case "get":
		return cmdLedgerGet(e, args[1:])
	default:
		fmt.Fprintf(e.errOut, "unknown ledger subcommand: %s\n", args[0])
		return 2
	}
}

func cmdLedgerExport(e env, args []string) int {
	fs := flag.NewFlagSet("ledger export", flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	var lf ledgerFlags
	lf.add(fs, e.cfg)

	var outPath string
	var labels multiString
	fs.StringVar(&outPath, "out", "", "Bundle file to write")
	fs.Var(&labels, "label", "name=<link> label to record in the bundle index (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if lf.listBackends {
		printBackends(e.out)
		return 0
	}
	if outPath == "" {
		fmt.Fprintln(e.errOut, "missing --out")
		return 2
	}

	opts := bundle.ExportOptions{Labels: map[string]cid.Cid{}}
	for _, kv := range labels {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			fmt.Fprintf(e.errOut, "invalid --label %q (want name=<link>)\n", kv)
			return 2
		}
		l, err := link.Parse(value)
		if err != nil {
			fmt.Fprintf(e.errOut, "invalid --label %s: %v\n", name, err)
			return 2
		}
		opts.Labels[name] = l.CID()
	}
	var ids []cid.Cid
	for _, arg := range fs.Args() {
		l, err := link.Parse(arg)
		if err != nil {
			fmt.Fprintf(e.errOut, "invalid link %q: %v\n", arg, err)
			return 2
		}
		ids = append(ids, l.CID())
	}

	store, closeFn, err := lf.open(e.ctx)
	if err != nil {
		fmt.Fprintln(e.errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	f, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(e.errOut, "create %s: %v\n", outPath, err)
		return 1
	}
	w := bufio.NewWriter(f)
	if len(ids) == 0 {
		err = bundle.ExportAll(e.ctx, w, store, opts)
	} else {
		err = bundle.Export(e.ctx, w, store, ids, opts)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(outPath)
		fmt.Fprintf(e.errOut, "export: %v\n", err)
		return 1
	}
	e.log.Info().Str("bundle", outPath).Int("entries", len(ids)).Msg("ledger exported")
	return 0
}

func cmdLedgerImport(e env, args []string) int {
	fs := flag.NewFlagSet("ledger import", flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	var lf ledgerFlags
	lf.add(fs, e.cfg)

	var inPath string
	var ignoreUnknown bool
	fs.StringVar(&inPath, "in", "", "Bundle file to read")
	fs.BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip TAR entries that are not ledger entries")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if lf.listBackends {
		printBackends(e.out)
		return 0
	}
	if inPath == "" {
		fmt.Fprintln(e.errOut, "missing --in")
		return 2
	}

	store, closeFn, err := lf.open(e.ctx)
	if err != nil {
		fmt.Fprintln(e.errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	f, err := os.Open(inPath)
	if err != nil {
		fmt.Fprintf(e.errOut, "open %s: %v\n", inPath, err)
		return 1
	}
	defer f.Close()

	res, err := bundle.Import(e.ctx, bufio.NewReader(f), store, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
	if err != nil {
		fmt.Fprintf(e.errOut, "import: %v\n", err)
		return 1
	}
	for _, id := range res.Imported {
		_, _ = fmt.Fprintln(e.out, id.String())
	}
	for name, id := range res.Labels {
		_, _ = fmt.Fprintf(e.errOut, "label %s => %s\n", name, id)
	}
	return 0
}

// cmdLedgerGet prints the public header of the message stored at a link.
func cmdLedgerGet(e env, args []string) int {
	fs := flag.NewFlagSet("ledger get", flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	var lf ledgerFlags
	lf.add(fs, e.cfg)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if lf.listBackends {
		printBackends(e.out)
		return 0
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(e.errOut, "usage: streams ledger get [ledger flags] <link>")
		return 2
	}
	l, err := link.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(e.errOut, "invalid link: %v\n", err)
		return 2
	}

	store, closeFn, err := lf.open(e.ctx)
	if err != nil {
		fmt.Fprintln(e.errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	data, err := store.Get(e.ctx, l.CID())
	if err != nil {
		if ledger.IsNotFound(err) {
			fmt.Fprintf(e.errOut, "not found: %s\n", l)
			return 1
		}
		fmt.Fprintln(e.errOut, err)
		return 1
	}
	p, err := (&message.Binary{Link: l, Body: data}).ParseHeader()
	if err != nil {
		fmt.Fprintf(e.errOut, "invalid envelope: %v\n", err)
		return 1
	}
	h := p.Header
	fmt.Fprintf(e.out, "type       %s\n", h.ContentType)
	fmt.Fprintf(e.out, "publisher  %s\n", h.Publisher)
	fmt.Fprintf(e.out, "seq        %d\n", h.SeqNo)
	if !h.LinkTo.IsZero() {
		fmt.Fprintf(e.out, "link-to    %s\n", h.LinkTo)
	}
	fmt.Fprintf(e.out, "bytes      %d\n", len(data))
	return 0
}
