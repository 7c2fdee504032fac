package main

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/google/uuid"

	"xdao.co/streams/keys"
	"xdao.co/streams/scenario"
	"xdao.co/streams/transport"
)

func cmdDemo(e env, args []string) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	var lf ledgerFlags
	lf.add(fs, e.cfg)

	var seed, scheme, mode string
	var asJSON, dump bool
	fs.StringVar(&seed, "seed", e.cfg.Author.Seed, "Author seed (random when empty)")
	fs.StringVar(&scheme, "scheme", e.cfg.Author.Scheme, "Signature scheme: ed25519|dilithium3")
	fs.StringVar(&mode, "mode", e.cfg.Scenario.Mode, "Expectation mode: strict|permissive")
	fs.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	fs.BoolVar(&dump, "dump", false, "Print participant state after every step (stderr)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if lf.listBackends {
		printBackends(e.out)
		return 0
	}
	s, err := keys.ParseScheme(scheme)
	if err != nil {
		fmt.Fprintf(e.errOut, "invalid --scheme: %v\n", err)
		return 2
	}
	m, ok := scenario.ParseMode(mode)
	if !ok {
		fmt.Fprintln(e.errOut, "invalid --mode")
		return 2
	}
	if seed == "" {
		seed = uuid.NewString()
		e.log.Info().Str("seed", seed).Msg("generated author seed")
	}

	store, closeFn, err := lf.open(e.ctx)
	if err != nil {
		fmt.Fprintln(e.errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	cfg := scenario.Config{AuthorSeed: seed, Scheme: s, Mode: m, Logger: e.log}
	if dump {
		cfg.Dump = e.errOut
	}
	report, runErr := scenario.MultiBranch(e.ctx, transport.New(store, e.log), cfg)
	if report != nil {
		if asJSON {
			enc := json.NewEncoder(e.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				fmt.Fprintf(e.errOut, "encode report: %v\n", err)
				return 1
			}
		} else {
			fmt.Fprintf(e.out, "channel %s\n", report.Channel)
			for _, st := range report.Steps {
				fmt.Fprintf(e.out, "  %-12s %-28s %s\n", st.Actor, st.Action, st.Outcome)
			}
		}
	}
	if runErr != nil {
		fmt.Fprintf(e.errOut, "demo failed: %v\n", runErr)
		return 1
	}
	return 0
}
