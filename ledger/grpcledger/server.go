package grpcledger

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/streams/ledger"
)

// Server exposes a ledger.Store over the Ledger gRPC service.
type Server struct {
	UnimplementedLedgerServer
	Store ledger.Store
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	id, data, err := decodePut(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, ledger.ErrInvalidID.Error())
	}
	if err := s.Store.Put(ctx, id, data); err != nil {
		log.Debug().Err(err).Str("id", id.String()).Msg("ledger put rejected")
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, status.Error(codes.InvalidArgument, ledger.ErrInvalidID.Error())
	}
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, status.Error(codes.InvalidArgument, ledger.ErrInvalidID.Error())
	}
	return wrapperspb.Bool(s.Store.Has(ctx, id)), nil
}

func (s *Server) List(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	l, ok := s.Store.(ledger.Lister)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "store cannot list entries")
	}
	ids, err := l.List(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(encodeList(ids)), nil
}
