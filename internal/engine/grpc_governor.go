package engine

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/infra/auth"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// UnaryGovernorInterceptor ограничивает частоту gRPC вызовов так же, как HTTP.
// Ключ эндпоинта строится из полного имени метода, личность: из authorization или адреса пира.
func UnaryGovernorInterceptor(gov Checker, v auth.TokenValidator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	log := logger.Named("grpc-governor")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// В gRPC заголовки в нижнем регистре
		var authz string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				authz = vals[0]
			}
		}

		caller := auth.ResolveCaller(v, authz, peerAddress(ctx), log)
		verdict := gov.Check(ctx, governor.CheckRequest{
			RawPath: info.FullMethod,
			Method:  "GRPC",
			Caller:  caller,
		})

		if !verdict.FailOpen {
			_ = grpc.SetHeader(ctx, metadata.Pairs(
				"x-ratelimit-limit", strconv.FormatInt(verdict.Limit, 10),
				"x-ratelimit-remaining", strconv.FormatInt(verdict.Remaining, 10),
				"x-ratelimit-reset", strconv.FormatInt(verdict.ResetAtMillis, 10),
			))
		}

		if !verdict.Allowed {
			return nil, rejectionStatus(verdict)
		}
		return handler(ctx, req)
	}
}

// rejectionStatus: ResourceExhausted с RetryInfo и QuotaFailure, чтобы клиенты gRPC могли сами выдержать паузу.
func rejectionStatus(v domain.Verdict) error {
	st := status.New(codes.ResourceExhausted, domain.RejectionCode)
	detailed, err := st.WithDetails(
		&errdetails.RetryInfo{
			RetryDelay: durationpb.New(time.Duration(v.RetryAfterSeconds) * time.Second),
		},
		&errdetails.QuotaFailure{
			Violations: []*errdetails.QuotaFailure_Violation{{
				Subject:     v.Identity,
				Description: "rate limit exceeded on " + v.EndpointKey,
			}},
		},
	)
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

func peerAddress(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
