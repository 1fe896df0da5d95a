package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"SynthLedger/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "synthledger.v1.LedgerService"

// unary builds a method descriptor around a LedgerService method
// expression, so the descriptor below needs no generated code.
func unary[Req, Resp any](name string, call func(LedgerService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(LedgerService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LedgerServiceDesc describes the ledger service for grpc.RegisterService.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerService)(nil),
	Methods: []grpc.MethodDesc{
		unary("DepositCollateral", LedgerService.DepositCollateral),
		unary("RedeemCollateral", LedgerService.RedeemCollateral),
		unary("MintUnit", LedgerService.MintUnit),
		unary("BurnUnit", LedgerService.BurnUnit),
		unary("DepositAndMint", LedgerService.DepositAndMint),
		unary("RedeemAndBurn", LedgerService.RedeemAndBurn),
		unary("Liquidate", LedgerService.Liquidate),
		unary("DepositSurplus", LedgerService.DepositSurplus),

		unary("GetAccount", LedgerService.GetAccount),
		unary("GetHealthFactor", LedgerService.GetHealthFactor),
		unary("GetCollateralValue", LedgerService.GetCollateralValue),
		unary("GetCollateralBalance", LedgerService.GetCollateralBalance),
		unary("GetSurplus", LedgerService.GetSurplus),
		unary("ListCollateralAssets", LedgerService.ListCollateralAssets),
		unary("GetUsdValue", LedgerService.GetUsdValue),
		unary("GetAssetAmountForUsd", LedgerService.GetAssetAmountForUsd),
		unary("ListLiquidations", LedgerService.ListLiquidations),
		unary("ListJournal", LedgerService.ListJournal),

		unary("SubmitQuote", LedgerService.SubmitQuote),
		unary("TakeSnapshot", LedgerService.TakeSnapshot),
		unary("RebuildProjections", LedgerService.RebuildProjections),
		unary("VerifyIntegrity", LedgerService.VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "synthledger/v1/ledger.proto",
}

// GRPCServer wraps the gRPC server and the HTTP gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	ledger        *LedgerServer
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// ServerDeps holds everything the RPC surface calls into.
type ServerDeps struct {
	Ledger        *LedgerServer
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	MetricsGather http.Handler
	Logger        zerolog.Logger
}

// NewGRPCServer creates the gRPC server with the ledger, health and
// reflection services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		ledger:        deps.Ledger,
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.observe))
	s.grpcServer.RegisterService(&LedgerServiceDesc, deps.Ledger)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)

	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           NewHTTPHandler(deps.Ledger, deps.HealthChecker, deps.MetricsGather),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// observe logs and counts every unary call.
func (s *GRPCServer) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)

	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
		s.metrics.QueryDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.Debug().Str("method", info.FullMethod).Str("code", code.String()).Err(err).Msg("rpc failed")
	}
	return resp, err
}

// StartGRPC serves gRPC until ctx ends.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Str("service", ServiceName).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON gateway until ctx ends.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
