package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"fracx/domain/errs"
	"fracx/domain/event"
	"fracx/infra/rooms"
	"fracx/service"
)

// Server adapts OrderService to the fracx.v1.Exchange gRPC service.
// Messages are google.protobuf.Struct values carrying the same JSON shapes
// as the HTTP API.
type Server struct {
	svc *service.OrderService
	hub *rooms.Hub
	log *zap.Logger
}

func NewServer(svc *service.OrderService, hub *rooms.Hub, log *zap.Logger) *Server {
	return &Server{svc: svc, hub: hub, log: log.Named("grpc")}
}

// Register attaches the Exchange service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// -------------------- Commands --------------------

func (s *Server) PlaceLimitOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in service.LimitOrderRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	o, err := s.svc.PlaceLimitOrder(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{"order": o})
}

func (s *Server) PlaceMarketOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in service.MarketOrderRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	res, err := s.svc.PlaceMarketOrder(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{
		"order":     res.Order,
		"totalCost": res.TotalCost.StringFixed(2),
		"trades":    res.Trades,
	})
}

// -------------------- Queries --------------------

func (s *Server) GetOrderBook(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		AssetID string `json:"assetId"`
		Depth   int    `json:"depth"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	return encode(event.Book(s.svc.GetOrderBook(in.AssetID, in.Depth), in.Depth).Data)
}

func (s *Server) GetOrder(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		OrderID string `json:"orderId"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	o, err := s.svc.GetOrderByID(in.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{"order": o})
}

func (s *Server) ListUserOrders(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		UserID string `json:"userId"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	return encode(map[string]any{"orders": s.svc.GetOrdersByUser(in.UserID)})
}

// -------------------- Streaming --------------------

// Subscribe streams every envelope addressed to the requested rooms until
// the client goes away.
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	var in struct {
		Rooms []string `json:"rooms"`
	}
	if err := decode(req, &in); err != nil {
		return err
	}
	if len(in.Rooms) == 0 {
		return status.Error(codes.InvalidArgument, "rooms: at least one room is required")
	}
	for _, r := range in.Rooms {
		if !validRoom(r) {
			return status.Errorf(codes.InvalidArgument, "rooms: unknown room %q", r)
		}
	}

	sub := s.hub.Subscribe("grpc-"+uuid.NewString(), 0)
	defer s.hub.Close(sub)
	for _, r := range in.Rooms {
		s.hub.Join(sub, r)
	}
	s.log.Debug("stream subscribed", zap.String("subscriber", sub.ID), zap.Strings("rooms", in.Rooms))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C:
			if !ok {
				return nil
			}
			msg, err := encode(env)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func validRoom(r string) bool {
	if r == event.AllAssetsRoom {
		return true
	}
	for _, prefix := range []string{event.AssetRoom(""), event.UserRoom("")} {
		if id, ok := strings.CutPrefix(r, prefix); ok && id != "" {
			return true
		}
	}
	return false
}

func toStatus(err error) error {
	switch {
	case errs.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("internal error: %v", err))
	}
}
