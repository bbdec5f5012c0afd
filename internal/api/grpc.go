package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/victornm/novatest/internal/errors"
)

// NovaServiceServer is the read side of the navigation surface over gRPC.
// Requests and responses are google.protobuf.Struct messages shaped like the
// HTTP JSON bodies. The visitor token travels in the "authorization" metadata.
type NovaServiceServer interface {
	GetSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListTests(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetResult(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

const NovaServiceName = "novatest.v1.NovaService"

var novaServiceDesc = grpc.ServiceDesc{
	ServiceName: NovaServiceName,
	HandlerType: (*NovaServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GetSession", NovaServiceServer.GetSession),
		unaryMethod("ListTests", NovaServiceServer.ListTests),
		unaryMethod("GetResult", NovaServiceServer.GetResult),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "novatest/v1/nova.proto",
}

type unaryCall func(srv NovaServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := fmt.Sprintf("/%s/%s", NovaServiceName, name)

	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}

			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(NovaServiceServer), ctx, req.(*structpb.Struct))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}

			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var _ NovaServiceServer = (*API)(nil)

func (a *API) GetSession(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s, err := a.storeFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	return toStruct(toSessionView(s))
}

func (a *API) ListTests(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s, err := a.storeFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	tests := a.catalog.Tests()
	views := make([]testView, 0, len(tests))
	for _, t := range tests {
		views = append(views, toTestView(t, s))
	}

	return toStruct(map[string]any{"tests": views})
}

func (a *API) GetResult(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s, err := a.storeFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	testID := req.GetFields()["test_id"].GetStringValue()
	if testID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("test_id required"))
	}

	score := req.GetFields()["score"].GetNumberValue()
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if score < 0 || score >= math.MaxInt64 || score != math.Trunc(score) {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid score: %v", score))
	}

	r, err := a.report.Result(ctx, testID, int64(score), s.Lang())
	if err != nil {
		return nil, err
	}

	return toStruct(toResultView(r))
}

// toStruct converts a JSON view into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("api: marshal view: %w", err))
	}

	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, errors.Internal(fmt.Errorf("api: convert view: %w", err))
	}
	return out, nil
}
