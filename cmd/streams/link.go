package main

import (
	"flag"
	"fmt"

	"xdao.co/streams/keys"
	"xdao.co/streams/link"
)

func cmdLink(e env, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(e.errOut, "usage: streams link <subcommand> ...")
		fmt.Fprintln(e.errOut, "subcommands: derive, inspect")
		return 2
	}
	switch args[0] {
	case "derive":
		return cmdLinkDerive(e, args[1:])
	case "inspect":
		return cmdLinkInspect(e, args[1:])
	default:
		fmt.Fprintf(e.errOut, "unknown link subcommand: %s\n", args[0])
		return 2
	}
}

// cmdLinkDerive prints the links a channel's participants will use, so an
// operator can look messages up in a ledger without running a participant.
func cmdLinkDerive(e env, args []string) int {
	fs := flag.NewFlagSet("link derive", flag.ContinueOnError)
	fs.SetOutput(e.errOut)

	var authorSeed, publisherSeed, parent, scheme string
	var seq uint64
	fs.StringVar(&authorSeed, "author-seed", e.cfg.Author.Seed, "Author seed")
	fs.StringVar(&publisherSeed, "publisher-seed", "", "Publisher seed (default: the author)")
	fs.Uint64Var(&seq, "seq", 0, "Sequence number on the publisher's branch (0: handshake links only)")
	fs.StringVar(&parent, "parent", "", "Link the message is chained to (default: the announcement)")
	fs.StringVar(&scheme, "scheme", e.cfg.Author.Scheme, "Signature scheme: ed25519|dilithium3")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if authorSeed == "" {
		fmt.Fprintln(e.errOut, "missing --author-seed")
		return 2
	}
	s, err := keys.ParseScheme(scheme)
	if err != nil {
		fmt.Fprintf(e.errOut, "invalid --scheme: %v\n", err)
		return 2
	}
	author, err := keys.FromSeed(authorSeed, s)
	if err != nil {
		fmt.Fprintf(e.errOut, "author identity: %v\n", err)
		return 1
	}
	publisher := author
	if publisherSeed != "" {
		if publisher, err = keys.FromSeed(publisherSeed, s); err != nil {
			fmt.Fprintf(e.errOut, "publisher identity: %v\n", err)
			return 1
		}
	}

	addr := link.NewAddress(author.ID())
	announcement := link.Derive(addr, author.ID(), 0, link.Link{})
	fmt.Fprintf(e.out, "address       %s\n", addr)
	fmt.Fprintf(e.out, "announcement  %s\n", announcement)
	if publisher != author {
		fmt.Fprintf(e.out, "subscription  %s\n", link.Derive(addr, publisher.ID(), 0, announcement))
	}
	if seq == 0 {
		return 0
	}

	anchor := announcement
	if parent != "" {
		if anchor, err = link.Parse(parent); err != nil {
			fmt.Fprintf(e.errOut, "invalid --parent: %v\n", err)
			return 2
		}
	}
	fmt.Fprintf(e.out, "message       %s\n", link.Derive(addr, publisher.ID(), seq, anchor))
	fmt.Fprintf(e.out, "sequence      %s\n", link.Sequence(addr, publisher.ID(), seq))
	return 0
}

func cmdLinkInspect(e env, args []string) int {
	fs := flag.NewFlagSet("link inspect", flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(e.errOut, "usage: streams link inspect <link>")
		return 2
	}
	l, err := link.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(e.errOut, "invalid link: %v\n", err)
		return 1
	}
	fmt.Fprintf(e.out, "address  %s\n", l.Addr)
	fmt.Fprintf(e.out, "msgid    %s\n", l.ID)
	return 0
}
