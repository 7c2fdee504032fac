package sqlite

import (
	"context"
	"fmt"

	"xdao.co/streams/ledger"
	"xdao.co/streams/ledger/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "sqlite",
		Description: "SQLite ledger (single file)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Options: []registry.Option{
			{Name: "sqlite-path", Help: "Ledger database file"},
		},
		Open: func(ctx context.Context, opts registry.Options) (ledger.Store, func() error, error) {
			path := opts.String("sqlite-path")
			if path == "" {
				return nil, nil, fmt.Errorf("missing --sqlite-path")
			}
			s, err := Open(path)
			if err != nil {
				return nil, nil, err
			}
			return s, s.Close, nil
		},
	})
}
