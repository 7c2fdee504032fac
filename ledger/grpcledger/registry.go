package grpcledger

import (
	"context"
	"fmt"

	"xdao.co/streams/ledger"
	"xdao.co/streams/ledger/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "gRPC ledger client (talks to streams-ledgerd)",
		Usage:       registry.UsageCLI,
		Options: []registry.Option{
			{Name: "grpc-target", Help: "gRPC target host:port (for --backend=grpc)"},
			{Name: "grpc-dial-timeout", Default: "5s", Help: "Dial timeout (for --backend=grpc)"},
			{Name: "grpc-timeout", Default: "0s", Help: "Per-RPC timeout (for --backend=grpc)"},
			{Name: "grpc-max-msg-bytes", Default: "0", Help: "Max gRPC message size in bytes (send+recv); 0 uses grpc defaults"},
		},
		Open: func(ctx context.Context, opts registry.Options) (ledger.Store, func() error, error) {
			target := opts.String("grpc-target")
			if target == "" {
				return nil, nil, fmt.Errorf("missing --grpc-target")
			}
			dialTimeout, err := opts.Duration("grpc-dial-timeout")
			if err != nil {
				return nil, nil, err
			}
			timeout, err := opts.Duration("grpc-timeout")
			if err != nil {
				return nil, nil, err
			}
			maxMsg, err := opts.Int("grpc-max-msg-bytes")
			if err != nil {
				return nil, nil, err
			}
			client, err := Dial(ctx, target, DialOptions{Timeout: dialTimeout, MaxMsgBytes: maxMsg})
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = timeout
			return client, client.Close, nil
		},
	})
}
