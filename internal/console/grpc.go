package console

import (
	"context"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/vessel-console/internal/logging"
)

// FeedHealthService is the health service name that tracks the live feed.
const FeedHealthService = "feed"

var requestIDMetadataKey = strings.ToLower(logging.RequestIDHeader)

// NewGRPCServer returns a gRPC server exposing grpc.health.v1. The overall
// status is SERVING until Stop; FeedHealthService follows feed connectivity.
// Extra server options, such as metric interceptors, are appended.
func (c *Console) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(FeedHealthService, feedStatus(c.feed.Connected()))
	c.OnFeedStatus(func(connected bool) {
		hs.SetServingStatus(FeedHealthService, feedStatus(connected))
	})

	c.mu.Lock()
	c.health = hs
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		hs.Shutdown()
	}

	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(RequestIDUnaryServerInterceptor(c.log)),
	}
	server := grpc.NewServer(append(base, opts...)...)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

func feedStatus(connected bool) healthpb.HealthCheckResponse_ServingStatus {
	if connected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// RequestIDUnaryServerInterceptor ensures a request_id is present on the
// context, sourcing it from inbound metadata if provided, echoes it in the
// response header and attaches a per-request logger annotated with method.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
		}
		ctx, id := logging.EnsureRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, id))

		method := ""
		if info != nil {
			method = info.FullMethod
		}
		ctx = logging.ContextWithLogger(ctx, base.With(logging.String("method", method)))

		return handler(ctx, req)
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
