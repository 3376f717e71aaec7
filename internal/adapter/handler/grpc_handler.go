package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/order-service/internal/core/domain"
)

const (
	GRPCServiceName      = "orders.v1.OrderService"
	PlaceOrderMethod     = "/" + GRPCServiceName + "/PlaceOrder"
	GetOrderMethod       = "/" + GRPCServiceName + "/GetOrder"
	grpcIdempotencyField = "idempotencyKey"
)

// OrderServiceServer is the gRPC contract. Messages are google.protobuf.Struct
// carrying the same JSON shapes as the HTTP API.
type OrderServiceServer interface {
	PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: placeOrderHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orders/v1/order_service.proto",
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

type GRPCHandler struct {
	orderService OrderService
	logger       *zap.Logger
}

func NewGRPCHandler(orderService OrderService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{orderService: orderService, logger: logger}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var order domain.PlaceOrderRequest
	if err := fromStruct(req, &order); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request body")
	}
	if v, ok := req.GetFields()[grpcIdempotencyField]; ok {
		order.IdempotencyKey = v.GetStringValue()
	}

	conf, err := h.orderService.PlaceOrder(ctx, order)
	if err != nil {
		return nil, h.toStatus(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"orderId":     conf.OrderID,
		"orderNumber": conf.OrderNumber,
		"message":     conf.Message,
	})
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw := req.GetFields()["id"].GetNumberValue()
	if raw != math.Trunc(raw) || raw < 1 || raw >= math.MaxInt64 {
		return nil, status.Error(codes.InvalidArgument, "invalid order id")
	}
	id := int64(raw)

	order, err := h.orderService.GetOrder(ctx, id)
	if err != nil {
		return nil, h.toStatus(err)
	}

	lines := make([]interface{}, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, map[string]interface{}{
			"id":       l.ID,
			"skuCode":  l.SKUCode,
			"price":    l.Price.String(),
			"quantity": l.Quantity,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"id":             order.ID,
		"orderNumber":    order.Number,
		"orderLineItems": lines,
	})
}

func (h *GRPCHandler) toStatus(err error) error {
	switch domain.Kind(err) {
	case "validation":
		return status.Error(codes.InvalidArgument, err.Error())
	case "out_of_stock":
		return status.Error(codes.FailedPrecondition, err.Error())
	case "duplicate_request":
		return status.Error(codes.AlreadyExists, err.Error())
	case "not_found":
		return status.Error(codes.NotFound, err.Error())
	case "inventory_unavailable":
		return status.Error(codes.Unavailable, "inventory service unavailable")
	default:
		h.logger.Error("grpc request failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

func fromStruct(s *structpb.Struct, out interface{}) error {
	if s == nil {
		return errors.New("empty message")
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func placeOrderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PlaceOrderMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrderServiceServer).PlaceOrder(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetOrderMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrderServiceServer).GetOrder(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
