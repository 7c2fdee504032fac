package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/streams/ledger/grpcledger"
	"xdao.co/streams/ledger/memory"
	"xdao.co/streams/ledger/testkit"
)

func TestServeStopsOnCancel(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	var logs bytes.Buffer
	errc := make(chan error, 1)
	go func() { errc <- serve(ctx, lis, store, zerolog.New(&logs).Level(zerolog.DebugLevel)) }()

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	client, err := grpcledger.Dial(context.Background(), "bufnet", grpcledger.DialOptions{
		Extra: []grpc.DialOption{
			grpc.WithContextDialer(dialer),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	client.Timeout = 2 * time.Second

	id := testkit.LinkID(7)
	if err := client.Put(context.Background(), id, []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !store.Has(context.Background(), id) {
		t.Fatalf("expected backing store to hold %s", id)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not stop")
	}
	if !strings.Contains(logs.String(), "/Put") {
		t.Fatalf("expected rpc log line, got %q", logs.String())
	}
}

func TestListBackends(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"--list-backends"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	for _, name := range []string{"localfs", "memory", "sqlite"} {
		if !strings.Contains(out.String(), name) {
			t.Fatalf("missing backend %q in %q", name, out.String())
		}
	}
}

func TestUnknownBackend(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"--backend", "nope"}, &out, &errOut); code != 2 {
		t.Fatalf("exit %d, want 2", code)
	}
}
