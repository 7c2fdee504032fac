package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"

	"xdao.co/streams/keys"
)

func cmdKey(e env, args []string) int {
	if len(args) == 0 {
		printKeyUsage(e.errOut)
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(e, args[1:])
	case "derive":
		return cmdKeyDerive(e, args[1:])
	case "list":
		return cmdKeyList(e, args[1:])
	case "export":
		return cmdKeyExport(e, args[1:])
	case "help", "-h", "--help":
		printKeyUsage(e.out)
		return 0
	default:
		fmt.Fprintf(e.errOut, "unknown key subcommand: %s\n\n", args[0])
		printKeyUsage(e.errOut)
		return 2
	}
}

func printKeyUsage(w io.Writer) {
	fmt.Fprintln(w, "streams key: local seed management")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  streams key init --name <name> [--seed <seed>] [--scheme <s>] [--force]")
	fmt.Fprintln(w, "  streams key derive --from <name> --role <role> [--scheme <s>] [--force]")
	fmt.Fprintln(w, "  streams key list")
	fmt.Fprintln(w, "  streams key export --name <name> [--role <role>] [--scheme <s>]")
}

func (e env) keyStore() (*keys.KeyStore, error) {
	return keys.CreateKeyStore(e.cfg.Keys.Dir)
}

func cmdKeyInit(e env, args []string) int {
	fs := flag.NewFlagSet("key init", flag.ContinueOnError)
	fs.SetOutput(e.errOut)

	var name, seed, scheme string
	var force bool
	fs.StringVar(&name, "name", "", "Key name (directory under the key store)")
	fs.StringVar(&seed, "seed", "", "Seed string (random when empty)")
	fs.StringVar(&scheme, "scheme", e.cfg.Author.Scheme, "Signature scheme: ed25519|dilithium3")
	fs.BoolVar(&force, "force", false, "Overwrite existing seed files")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(e.errOut, "missing --name")
		return 2
	}
	if err := keys.CheckKeyName(name); err != nil {
		fmt.Fprintf(e.errOut, "invalid --name: %v\n", err)
		return 2
	}
	s, err := keys.ParseScheme(scheme)
	if err != nil {
		fmt.Fprintf(e.errOut, "invalid --scheme: %v\n", err)
		return 2
	}
	ks, err := e.keyStore()
	if err != nil {
		fmt.Fprintf(e.errOut, "keys: %v\n", err)
		return 1
	}
	if seed == "" {
		seed = uuid.NewString()
	}
	id, path, err := ks.InitializeRoot(name, seed, s, force)
	if err != nil {
		fmt.Fprintf(e.errOut, "write seed: %v\n", err)
		return 1
	}
	fmt.Fprintf(e.out, "Created root identity: %s\n", id.ID())
	fmt.Fprintf(e.out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyDerive(e env, args []string) int {
	fs := flag.NewFlagSet("key derive", flag.ContinueOnError)
	fs.SetOutput(e.errOut)

	var from, role, scheme string
	var force bool
	fs.StringVar(&from, "from", "", "Root key name")
	fs.StringVar(&role, "role", "", "Role identifier (e.g. author, subscriber-a)")
	fs.StringVar(&scheme, "scheme", e.cfg.Author.Scheme, "Signature scheme: ed25519|dilithium3")
	fs.BoolVar(&force, "force", false, "Overwrite existing seed files")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if from == "" || role == "" {
		fmt.Fprintln(e.errOut, "usage: streams key derive --from <name> --role <role>")
		return 2
	}
	s, err := keys.ParseScheme(scheme)
	if err != nil {
		fmt.Fprintf(e.errOut, "invalid --scheme: %v\n", err)
		return 2
	}
	ks, err := e.keyStore()
	if err != nil {
		fmt.Fprintf(e.errOut, "keys: %v\n", err)
		return 1
	}
	id, path, err := ks.DeriveRole(from, role, s, force)
	if err != nil {
		fmt.Fprintf(e.errOut, "derive role: %v\n", err)
		return 1
	}
	fmt.Fprintf(e.out, "Created role identity: %s\n", id.ID())
	fmt.Fprintf(e.out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyExport(e env, args []string) int {
	fs := flag.NewFlagSet("key export", flag.ContinueOnError)
	fs.SetOutput(e.errOut)

	var name, role, scheme string
	fs.StringVar(&name, "name", "", "Key name")
	fs.StringVar(&role, "role", "", "Optional role (exports the derived role identity)")
	fs.StringVar(&scheme, "scheme", e.cfg.Author.Scheme, "Signature scheme: ed25519|dilithium3")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(e.errOut, "missing --name")
		return 2
	}
	s, err := keys.ParseScheme(scheme)
	if err != nil {
		fmt.Fprintf(e.errOut, "invalid --scheme: %v\n", err)
		return 2
	}
	ks, err := e.keyStore()
	if err != nil {
		fmt.Fprintf(e.errOut, "keys: %v\n", err)
		return 1
	}
	pub, err := ks.Export(name, role, s)
	if err != nil {
		fmt.Fprintf(e.errOut, "export: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(e.out, pub)
	return 0
}

func cmdKeyList(e env, args []string) int {
	fs := flag.NewFlagSet("key list", flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks, err := e.keyStore()
	if err != nil {
		fmt.Fprintf(e.errOut, "keys: %v\n", err)
		return 1
	}
	entries, err := ks.ListKeys()
	if err != nil {
		fmt.Fprintf(e.errOut, "list keys: %v\n", err)
		return 1
	}
	for _, entry := range entries {
		fmt.Fprintf(e.out, "%s\n", entry.Identifier)
		for _, r := range entry.Roles {
			fmt.Fprintf(e.out, "  - %s\n", r)
		}
	}
	return 0
}
