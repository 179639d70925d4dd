package ml

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Muneeb-Masood/EC-ML/internal/retry"
)

// PredictMethod is the full gRPC method name served by the model.
const PredictMethod = "/fraudml.v1.FraudModel/Predict"

// GRPCClient calls the model service. Requests and responses are
// google.protobuf.Struct messages:
//
//	request:  {"feature_order": [...], "features": {"<name>": <value>, ...}}
//	response: {"probability": <float>}
type GRPCClient struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. The connection is established lazily.
func Dial(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Predict sends one feature vector to the model.
// Errors the model will keep returning are marked permanent.
func (c *GRPCClient) Predict(ctx context.Context, features map[string]float64) (float64, error) {
	order := make([]any, len(FeatureNames))
	values := make(map[string]any, len(features))
	for i, name := range FeatureNames {
		order[i] = name
	}
	for name, v := range features {
		values[name] = v
	}

	req, err := structpb.NewStruct(map[string]any{
		"feature_order": order,
		"features":      values,
	})
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("encode features: %w", err))
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		return 0, classify(err)
	}

	p, ok := resp.GetFields()["probability"]
	if !ok {
		return 0, retry.Permanent(errors.New("model response has no probability"))
	}
	num, ok := p.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, retry.Permanent(errors.New("model probability is not a number"))
	}
	return num.NumberValue, nil
}

// Ready reports whether the connection is usable.
func (c *GRPCClient) Ready(context.Context) error {
	switch state := c.conn.GetState(); state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("model connection is %s", state)
	default:
		return nil
	}
}

// Close releases the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func classify(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.Unimplemented,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return retry.Permanent(fmt.Errorf("model rejected request: %w", err))
	default:
		return fmt.Errorf("model call failed: %w", err)
	}
}
