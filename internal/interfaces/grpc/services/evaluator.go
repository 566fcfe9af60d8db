// Package services implements the gRPC services of the API server.
//
// Messages are google.protobuf.Struct documents carrying the same JSON the
// HTTP API accepts, so the service needs no generated stubs: the service
// descriptor below is written by hand against the well-known types.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

const EvaluatorServiceName = "mbpip.v1.Evaluator"

// EvaluatorServer is the server API of mbpip.v1.Evaluator.
type EvaluatorServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EvaluateBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GradCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DescribeBasis(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type evaluatorServer struct {
	svc    evaluation.Service
	logger logging.Logger
}

// NewEvaluatorServer adapts the evaluation service.
func NewEvaluatorServer(svc evaluation.Service, logger logging.Logger) EvaluatorServer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &evaluatorServer{svc: svc, logger: logger.Named("evaluator")}
}

func (s *evaluatorServer) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req evaluation.Request
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := s.svc.Evaluate(ctx, &req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return encode(res)
}

type batchRequest struct {
	Requests []*evaluation.Request `json:"requests"`
}

type batchResponse struct {
	Results []*evaluation.Result `json:"results"`
}

func (s *evaluatorServer) EvaluateBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req batchRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if len(req.Requests) == 0 {
		return nil, status.Error(codes.InvalidArgument, "requests must not be empty")
	}
	results, err := s.svc.EvaluateBatch(ctx, req.Requests)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return encode(batchResponse{Results: results})
}

func (s *evaluatorServer) GradCheck(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req evaluation.GradCheckRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	rep, err := s.svc.GradCheck(ctx, &req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return encode(rep)
}

func (s *evaluatorServer) DescribeBasis(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return encode(evaluation.DescribeBasis())
}

// decode rejects unknown fields so that misspelled keys surface instead of
// being silently dropped.
func decode(in *structpb.Struct, v interface{}) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

func encode(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// toStatus maps application errors onto gRPC codes through their HTTP
// status. Server-side failures are logged and masked.
func (s *evaluatorServer) toStatus(err error) error {
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return err
	}
	code := errors.GetCode(err)
	httpStatus := errors.HTTPStatusForCode(code)
	if httpStatus >= http.StatusInternalServerError && httpStatus != http.StatusServiceUnavailable &&
		httpStatus != http.StatusGatewayTimeout && httpStatus != http.StatusBadGateway {
		s.logger.Error("evaluation failed", logging.String("code", code.String()), logging.Err(err))
		return status.Errorf(codes.Internal, "[%s] %s", code, errors.DefaultMessageForCode(code))
	}
	return status.Error(GRPCCode(code), fmt.Sprintf("[%s] %s", code, err.Error()))
}

// GRPCCode is the gRPC equivalent of an application error code.
func GRPCCode(code errors.ErrorCode) codes.Code {
	switch errors.HTTPStatusForCode(code) {
	case http.StatusOK:
		return codes.OK
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusUnprocessableEntity:
		return codes.FailedPrecondition
	case http.StatusRequestEntityTooLarge, http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Service descriptor
// ─────────────────────────────────────────────────────────────────────────────

func RegisterEvaluatorServer(r grpc.ServiceRegistrar, srv EvaluatorServer) {
	r.RegisterService(&EvaluatorServiceDesc, srv)
}

var EvaluatorServiceDesc = grpc.ServiceDesc{
	ServiceName: EvaluatorServiceName,
	HandlerType: (*EvaluatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: structHandler("Evaluate", EvaluatorServer.Evaluate)},
		{MethodName: "EvaluateBatch", Handler: structHandler("EvaluateBatch", EvaluatorServer.EvaluateBatch)},
		{MethodName: "GradCheck", Handler: structHandler("GradCheck", EvaluatorServer.GradCheck)},
		{MethodName: "DescribeBasis", Handler: describeBasisHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mbpip/v1/evaluator.proto",
}

func structHandler(method string, call func(EvaluatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + EvaluatorServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EvaluatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(EvaluatorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func describeBasisHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluatorServer).DescribeBasis(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + EvaluatorServiceName + "/DescribeBasis"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EvaluatorServer).DescribeBasis(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ─────────────────────────────────────────────────────────────────────────────
// Client
// ─────────────────────────────────────────────────────────────────────────────

// EvaluatorClient calls mbpip.v1.Evaluator.
type EvaluatorClient struct {
	cc grpc.ClientConnInterface
}

func NewEvaluatorClient(cc grpc.ClientConnInterface) *EvaluatorClient {
	return &EvaluatorClient{cc: cc}
}

func (c *EvaluatorClient) invoke(ctx context.Context, method string, in interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+EvaluatorServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Evaluate sends req and decodes the result.
func (c *EvaluatorClient) Evaluate(ctx context.Context, req *evaluation.Request, opts ...grpc.CallOption) (*evaluation.Result, error) {
	in, err := encode(req)
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, "Evaluate", in, opts...)
	if err != nil {
		return nil, err
	}
	var res evaluation.Result
	if err := decodeResponse(out, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *EvaluatorClient) EvaluateBatch(ctx context.Context, reqs []*evaluation.Request, opts ...grpc.CallOption) ([]*evaluation.Result, error) {
	in, err := encode(batchRequest{Requests: reqs})
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, "EvaluateBatch", in, opts...)
	if err != nil {
		return nil, err
	}
	var res batchResponse
	if err := decodeResponse(out, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

func (c *EvaluatorClient) GradCheck(ctx context.Context, req *evaluation.GradCheckRequest, opts ...grpc.CallOption) (*evaluation.GradCheckReport, error) {
	in, err := encode(req)
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, "GradCheck", in, opts...)
	if err != nil {
		return nil, err
	}
	var rep evaluation.GradCheckReport
	if err := decodeResponse(out, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *EvaluatorClient) DescribeBasis(ctx context.Context, opts ...grpc.CallOption) (*evaluation.BasisInfo, error) {
	out, err := c.invoke(ctx, "DescribeBasis", &emptypb.Empty{}, opts...)
	if err != nil {
		return nil, err
	}
	var info evaluation.BasisInfo
	if err := decodeResponse(out, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// decodeResponse tolerates fields added by newer servers.
func decodeResponse(out *structpb.Struct, v interface{}) error {
	raw, err := protojson.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
