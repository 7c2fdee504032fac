package memory

import (
	"context"

	"xdao.co/streams/ledger"
	"xdao.co/streams/ledger/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "memory",
		Description: "In-process ledger (lost on exit)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Open: func(ctx context.Context, opts registry.Options) (ledger.Store, func() error, error) {
			return New(), nil, nil
		},
	})
}
