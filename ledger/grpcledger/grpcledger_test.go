package grpcledger

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/streams/ledger"
	"xdao.co/streams/ledger/localfs"
	"xdao.co/streams/ledger/memory"
	"xdao.co/streams/ledger/testkit"
)

func serve(t *testing.T, store ledger.Store) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterLedgerServer(srv, &Server{Store: store})

	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	client, err := Dial(context.Background(), "bufnet", DialOptions{
		Extra: []grpc.DialOption{
			grpc.WithContextDialer(dialer),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.Timeout = 2 * time.Second
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConformanceOverMemory(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) ledger.Store {
		return serve(t, memory.New())
	})
}

func TestLocalFSRoundTrip(t *testing.T) {
	store, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	client := serve(t, store)
	ctx := context.Background()

	id := testkit.LinkID(42)
	if err := client.Put(ctx, id, []byte("hello grpcledger")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !store.Has(ctx, id) {
		t.Fatalf("entry did not reach the backing store")
	}
	if err := client.Put(ctx, id, []byte("other")); !errors.Is(err, ledger.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}
	got, err := client.Get(ctx, id)
	if err != nil || string(got) != "hello grpcledger" {
		t.Fatalf("Get: %q, %v", got, err)
	}
}

func TestMapRPCRoundTrip(t *testing.T) {
	for _, want := range []error{ledger.ErrNotFound, ledger.ErrInvalidID, ledger.ErrImmutable, ledger.ErrLinkMismatch} {
		if got := mapRPC(mapErr(want)); !errors.Is(got, want) {
			t.Fatalf("mapRPC(mapErr(%v)) = %v", want, got)
		}
	}
}
