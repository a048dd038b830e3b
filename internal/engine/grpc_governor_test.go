package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/ratewarden/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func peerContext(addr string) context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP(addr), Port: 50123},
	})
}

func TestUnaryInterceptorRejects(t *testing.T) {
	gov := &stubChecker{verdict: domain.Verdict{
		Allowed: false, Limit: 5, RetryAfterSeconds: 30,
		EndpointKey: "/grpc.health.v1.health/check", Identity: "ip:10.1.2.3",
	}}
	intercept := UnaryGovernorInterceptor(gov, nil, zap.NewNop())

	var called bool
	handler := func(context.Context, interface{}) (interface{}, error) {
		called = true
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := intercept(peerContext("10.1.2.3"), nil, info, handler)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.False(t, called)

	require.Len(t, gov.requests, 1)
	assert.Equal(t, "/grpc.health.v1.Health/Check", gov.requests[0].RawPath)
	assert.Equal(t, "ip:10.1.2.3", gov.requests[0].Caller.Identity.String())

	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.ResourceExhausted, st.Code())
	assert.Equal(t, domain.RejectionCode, st.Message())

	var retry *errdetails.RetryInfo
	var quota *errdetails.QuotaFailure
	for _, d := range st.Details() {
		switch v := d.(type) {
		case *errdetails.RetryInfo:
			retry = v
		case *errdetails.QuotaFailure:
			quota = v
		}
	}
	require.NotNil(t, retry)
	assert.Equal(t, 30*time.Second, retry.GetRetryDelay().AsDuration())
	require.NotNil(t, quota)
	require.Len(t, quota.GetViolations(), 1)
	assert.Equal(t, "ip:10.1.2.3", quota.GetViolations()[0].GetSubject())
}

func TestUnaryInterceptorAdmits(t *testing.T) {
	gov := &stubChecker{verdict: domain.Verdict{Allowed: true, Limit: 100, Remaining: 99}}
	intercept := UnaryGovernorInterceptor(gov, nil, zap.NewNop())

	handler := func(context.Context, interface{}) (interface{}, error) {
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	// без серверного стрима SetHeader вернет ошибку, интерсептор ее игнорирует
	resp, err := intercept(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, "ip:unknown", gov.requests[0].Caller.Identity.String())
}
