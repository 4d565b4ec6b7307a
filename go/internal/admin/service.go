package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpcreflect"
	"github.com/mcdev12/reflex/go/internal/coordinator"
	"github.com/mcdev12/reflex/go/internal/room"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RoomSource serves room snapshots.
type RoomSource interface {
	Rooms(ctx context.Context) ([]room.Info, error)
	Room(ctx context.Context, roomID string) (room.Info, error)
}

// Service implements the admin RPCs.
type Service struct {
	rooms RoomSource
}

func NewService(rooms RoomSource) *Service {
	return &Service{rooms: rooms}
}

// ListRooms returns a snapshot of every live room.
func (s *Service) ListRooms(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	infos, err := s.rooms.Rooms(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}

	rooms := make([]interface{}, 0, len(infos))
	for _, info := range infos {
		rooms = append(rooms, infoToMap(info))
	}

	out, err := structpb.NewStruct(map[string]interface{}{
		"rooms": rooms,
		"count": len(rooms),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// GetRoom returns a single room snapshot.
func (s *Service) GetRoom(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	roomID := req.Msg.GetValue()
	if err := room.ValidateRoomID(roomID); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	info, err := s.rooms.Room(ctx, roomID)
	if err != nil {
		return nil, toConnectError(err)
	}

	out, err := structpb.NewStruct(infoToMap(info))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, room.ErrUnknownRoom):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, room.ErrInvalidRoomID):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, coordinator.ErrStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func infoToMap(info room.Info) map[string]interface{} {
	members := make([]interface{}, 0, len(info.Members))
	for _, m := range info.Members {
		members = append(members, map[string]interface{}{
			"playerId": m.ID,
			"username": m.Username,
			"joinedAt": m.JoinedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	out := map[string]interface{}{
		"roomId":          info.ID,
		"phase":           string(info.Phase),
		"members":         members,
		"playerCount":     len(members),
		"submitted":       info.Submitted,
		"createdAt":       info.CreatedAt.UTC().Format(time.RFC3339Nano),
		"roundsCompleted": info.RoundsCompleted,
	}
	if !info.CountdownDeadline.IsZero() {
		out["countdownDeadline"] = info.CountdownDeadline.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// NewHandler mounts the admin RPCs under the service path.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler, error) {
	sd, err := ServiceDescriptor()
	if err != nil {
		return "", nil, err
	}
	methods := sd.Methods()

	listRooms := connect.NewUnaryHandler(
		ListRoomsProcedure,
		svc.ListRooms,
		append([]connect.HandlerOption{
			connect.WithSchema(methods.ByName("ListRooms")),
			connect.WithIdempotency(connect.IdempotencyNoSideEffects),
		}, opts...)...,
	)
	getRoom := connect.NewUnaryHandler(
		GetRoomProcedure,
		svc.GetRoom,
		append([]connect.HandlerOption{
			connect.WithSchema(methods.ByName("GetRoom")),
			connect.WithIdempotency(connect.IdempotencyNoSideEffects),
		}, opts...)...,
	)

	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ListRoomsProcedure:
			listRooms.ServeHTTP(w, r)
		case GetRoomProcedure:
			getRoom.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	}), nil
}

// RegisterRoutes mounts the admin service and gRPC reflection for it.
func RegisterRoutes(mux *http.ServeMux, svc *Service) error {
	path, handler, err := NewHandler(svc, connect.WithInterceptors(LoggingInterceptor()))
	if err != nil {
		return err
	}
	mux.Handle(path, handler)

	reg, err := Files()
	if err != nil {
		return err
	}
	reflector := grpcreflect.NewReflector(
		grpcreflect.NamerFunc(func() []string { return []string{ServiceName} }),
		grpcreflect.WithDescriptorResolver(reg),
	)
	mux.Handle(grpcreflect.NewHandlerV1(reflector))
	mux.Handle(grpcreflect.NewHandlerV1Alpha(reflector))
	return nil
}

// LoggingInterceptor logs every admin call with its outcome.
func LoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)

			evt := log.Debug()
			if err != nil && connect.CodeOf(err) != connect.CodeNotFound {
				evt = log.Warn().Err(err)
			}
			evt.
				Str("procedure", req.Spec().Procedure).
				Str("peer", req.Peer().Addr).
				Dur("duration", time.Since(start)).
				Msg("admin call")
			return res, err
		}
	}
}
