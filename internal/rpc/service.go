package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service is described by hand over google.protobuf.Struct messages so
// no generated stubs are needed:
//
//	Info(Struct{})                                 -> {waves: [{index, id, outputs, train, valid}], inputs: [{name, min, max}], cutoff, nth}
//	Predict(Struct{wave?, point: {name: value}})   -> {wave, outputs: {id: {mean, variance}}}
//	Implausibility(Struct{wave?, point: {...}})    -> {plausible, score, waves: [{index, id, score, plausible, outputs: {id: score}}]}
//
// wave defaults to the latest one.
const ServiceName = "hmcal.History"

const (
	methodInfo           = "/" + ServiceName + "/Info"
	methodPredict        = "/" + ServiceName + "/Predict"
	methodImplausibility = "/" + ServiceName + "/Implausibility"
)

type historyService interface {
	info(context.Context, *structpb.Struct) (*structpb.Struct, error)
	predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	implausibility(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func handler(call func(historyService, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(historyService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(historyService), ctx, req.(*structpb.Struct))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*historyService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Info", Handler: handler(historyService.info, methodInfo)},
		{MethodName: "Predict", Handler: handler(historyService.predict, methodPredict)},
		{MethodName: "Implausibility", Handler: handler(historyService.implausibility, methodImplausibility)},
	},
	Metadata: "hmcal/history",
}

// Register exposes s on g.
func Register(g *grpc.Server, s *HistoryServer) {
	g.RegisterService(&serviceDesc, &grpcHistory{inner: s})
}

// LoggingInterceptor logs every call with its duration and status code.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		log.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
			zap.String("code", status.Code(err).String()))
		return resp, err
	}
}

// grpcHistory adapts HistoryServer to the Struct-based wire format.
type grpcHistory struct {
	inner *HistoryServer
}

func (g *grpcHistory) info(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	waves, err := g.inner.Info(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	wl := make([]any, len(waves))
	for i, w := range waves {
		outs := make([]any, len(w.Outputs))
		for k, id := range w.Outputs {
			outs[k] = string(id)
		}
		wl[i] = map[string]any{
			"index":   w.Index,
			"id":      w.ID,
			"outputs": outs,
			"train":   w.Train,
			"valid":   w.Valid,
		}
	}
	ranges := g.inner.Ranges()
	il := make([]any, len(ranges))
	for i, r := range ranges {
		il[i] = map[string]any{"name": r.Name, "min": r.Min, "max": r.Max}
	}
	rule := g.inner.Rule()
	return newStruct(map[string]any{
		"waves":  wl,
		"inputs": il,
		"cutoff": rule.Cutoff,
		"nth":    rule.Nth,
	})
}

func (g *grpcHistory) predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	wave, named, err := parseQuery(in)
	if err != nil {
		return nil, err
	}
	idx, preds, err := g.inner.Predict(ctx, wave, named)
	if err != nil {
		return nil, toStatus(err)
	}
	outs := make(map[string]any, len(preds))
	for _, p := range preds {
		outs[string(p.Output)] = map[string]any{"mean": p.Mean, "variance": p.Variance}
	}
	return newStruct(map[string]any{"wave": idx, "outputs": outs})
}

func (g *grpcHistory) implausibility(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	wave, named, err := parseQuery(in)
	if err != nil {
		return nil, err
	}
	v, err := g.inner.Implausibility(ctx, wave, named)
	if err != nil {
		return nil, toStatus(err)
	}
	wl := make([]any, len(v.Waves))
	for i, w := range v.Waves {
		scores := make(map[string]any, len(w.Scores))
		for k, id := range w.Outputs {
			scores[string(id)] = w.Scores[k]
		}
		wl[i] = map[string]any{
			"index":     w.Index,
			"id":        w.ID,
			"score":     w.Score,
			"plausible": w.Plausible,
			"outputs":   scores,
		}
	}
	return newStruct(map[string]any{"plausible": v.Plausible, "score": v.Score, "waves": wl})
}

func parseQuery(in *structpb.Struct) (int, map[string]float64, error) {
	wave := -1
	if v, ok := in.GetFields()["wave"]; ok {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue != float64(int(n.NumberValue)) {
			return 0, nil, status.Errorf(codes.InvalidArgument, "wave must be an integer")
		}
		wave = int(n.NumberValue)
	}
	pv := in.GetFields()["point"].GetStructValue()
	if pv == nil {
		return 0, nil, status.Error(codes.InvalidArgument, "point is required")
	}
	named := make(map[string]float64, len(pv.GetFields()))
	for name, v := range pv.GetFields() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return 0, nil, status.Errorf(codes.InvalidArgument, "input %q is not a number", name)
		}
		named[name] = n.NumberValue
	}
	return wave, named, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrBadPoint):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrNoWave):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrNoHistory):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// Client calls the history service over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) Info(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodInfo, &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Predict(ctx context.Context, wave int, point map[string]float64) (*structpb.Struct, error) {
	return c.query(ctx, methodPredict, wave, point)
}

func (c *Client) Implausibility(ctx context.Context, wave int, point map[string]float64) (*structpb.Struct, error) {
	return c.query(ctx, methodImplausibility, wave, point)
}

func (c *Client) query(ctx context.Context, method string, wave int, point map[string]float64) (*structpb.Struct, error) {
	pm := make(map[string]any, len(point))
	for k, v := range point {
		pm[k] = v
	}
	req := map[string]any{"point": pm}
	if wave >= 0 {
		req["wave"] = wave
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
