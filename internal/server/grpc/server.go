// Package grpc exposes the ledger over gRPC. Requests are
// google.protobuf.Struct messages and every reply is a
// google.protobuf.ListValue envelope: ["success", payload] or
// ["error", message].
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/P-T-/OpenCoins/internal/logging"
	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/P-T-/OpenCoins/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "opencoins.Ledger"

// Ledger is the subset of services.Ledger the transport calls.
type Ledger interface {
	Register(ctx context.Context, p services.RegisterParams) (*models.Account, error)
	LookupAccount(ctx context.Context, filter models.AccountFilter) (*models.Account, error)
	Authenticate(ctx context.Context, account *models.Account, password string) bool
	Balance(account *models.Account) int64
	Mint(ctx context.Context, p services.MintParams) (string, error)
	Redeem(ctx context.Context, tokenID string, account *models.Account) (int64, error)
	RevertGroup(ctx context.Context, tag string, fallback *models.Account) ([]string, error)
	DeleteAccount(ctx context.Context, account, transferTo *models.Account) error
}

// LedgerServer is the handler set registered under ServiceName.
type LedgerServer interface {
	Register(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error)
	Lookup(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error)
	Balance(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error)
	Mint(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error)
	Redeem(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error)
	Revert(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error)
	Delete(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", LedgerServer.Register),
		unary("Lookup", LedgerServer.Lookup),
		unary("Balance", LedgerServer.Balance),
		unary("Mint", LedgerServer.Mint),
		unary("Redeem", LedgerServer.Redeem),
		unary("Revert", LedgerServer.Revert),
		unary("Delete", LedgerServer.Delete),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "opencoins/ledger",
}

// FullMethod returns the wire name of a ledger method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary(method string, call func(LedgerServer, context.Context, *structpb.Struct) (*structpb.ListValue, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

type GRPCServer struct {
	address         string
	ledger          Ledger
	logger          logging.Logger
	shutdownTimeout time.Duration
}

func NewGRPCServer(address string, l logging.Logger, ledger Ledger, shutdownTimeout time.Duration) *GRPCServer {
	return &GRPCServer{
		address:         address,
		ledger:          ledger,
		logger:          l.With("module", "grpc_server"),
		shutdownTimeout: shutdownTimeout,
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done. In-flight calls get
// the shutdown timeout to finish before the server is stopped hard.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	srv.RegisterService(&ledgerServiceDesc, s)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping gRPC server...")
		s.stop(srv)
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	<-stopped
	return nil
}

func (s *GRPCServer) stop(srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	if s.shutdownTimeout <= 0 {
		<-done
		return
	}

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn(context.Background(), "graceful stop timed out, closing connections")
		srv.Stop()
		<-done
	}
}
