package localfs

import (
	"context"
	"fmt"

	"xdao.co/streams/ledger"
	"xdao.co/streams/ledger/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local filesystem ledger (directory)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Options: []registry.Option{
			{Name: "localfs-dir", Help: "Ledger directory"},
		},
		Open: func(ctx context.Context, opts registry.Options) (ledger.Store, func() error, error) {
			dir := opts.String("localfs-dir")
			if dir == "" {
				return nil, nil, fmt.Errorf("missing --localfs-dir")
			}
			s, err := New(dir)
			return s, nil, err
		},
	})
}
