package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/core/service"
	"github.com/rl1809/keyvault/internal/pkg/logger"
)

const (
	checkoutServiceName    = "keyvault.v1.CheckoutService"
	checkoutFullMethodName = "/" + checkoutServiceName + "/Checkout"

	ReasonAlreadyProcessed      = "already_processed"
	ReasonInsufficientInventory = "insufficient_inventory"
)

// jsonCodec lets the service run over gRPC without generated protobuf types.
// Clients select it with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type CheckoutRequest struct {
	OrderID string            `json:"order_id"`
	Items   []LineItemRequest `json:"items"`
}

type CheckoutResponse struct {
	Success     bool                 `json:"success"`
	Message     string               `json:"message"`
	Reason      string               `json:"reason,omitempty"`
	Allocations []AllocationResponse `json:"allocations,omitempty"`
}

type CheckoutServer interface {
	Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error)
}

var checkoutServiceDesc = grpc.ServiceDesc{
	ServiceName: checkoutServiceName,
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkout", Handler: checkoutMethodHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keyvault/v1/checkout",
}

func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&checkoutServiceDesc, srv)
}

func checkoutMethodHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckoutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServer).Checkout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkoutFullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CheckoutServer).Checkout(ctx, req.(*CheckoutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type GRPCHandler struct {
	checkout *service.CheckoutService
	logger   *slog.Logger
}

func NewGRPCHandler(checkout *service.CheckoutService, log *slog.Logger) *GRPCHandler {
	if log == nil {
		log = slog.Default()
	}
	return &GRPCHandler{checkout: checkout, logger: log}
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	allocs, err := h.checkout.Checkout(ctx, req.OrderID, toLineItems(req.Items))
	if err != nil {
		var insufficient *domain.InsufficientInventoryError
		switch {
		case errors.Is(err, domain.ErrOrderAlreadyProcessed):
			return &CheckoutResponse{
				Success: false,
				Message: "order already processed",
				Reason:  ReasonAlreadyProcessed,
			}, nil
		case errors.As(err, &insufficient):
			return &CheckoutResponse{
				Success: false,
				Message: "sold out: " + insufficient.ProductID,
				Reason:  ReasonInsufficientInventory,
			}, nil
		case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidLineItem):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case domain.IsRetryable(err):
			return nil, status.Error(codes.Unavailable, "temporarily unavailable, retry")
		case errors.Is(err, context.Canceled):
			return nil, status.Error(codes.Canceled, err.Error())
		default:
			logger.From(ctx, h.logger).Error("checkout failed", slog.String("order_id", req.OrderID), slog.Any("error", err))
			return nil, status.Error(codes.Internal, "internal error")
		}
	}

	return &CheckoutResponse{
		Success:     true,
		Message:     "order fulfilled",
		Allocations: toAllocationResponses(allocs),
	}, nil
}

// CheckoutClient calls CheckoutService over any client connection.
type CheckoutClient struct {
	cc grpc.ClientConnInterface
}

func NewCheckoutClient(cc grpc.ClientConnInterface) *CheckoutClient {
	return &CheckoutClient{cc: cc}
}

func (c *CheckoutClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	out := new(CheckoutResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodec{}.Name())}, opts...)
	if err := c.cc.Invoke(ctx, checkoutFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
