package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"appointly/internal/database"
	"appointly/internal/models"
	"appointly/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	availabilityServiceName = "appointly.availability.v1.AvailabilityService"
	getAvailableSlotsMethod = "/" + availabilityServiceName + "/GetAvailableSlots"
	healthServicePrefix     = "/grpc.health.v1.Health/"
)

// AvailabilityLookup is the part of the booking service the availability API reads.
type AvailabilityLookup interface {
	Availability(ctx context.Context, serviceID string, date time.Time) ([]models.AvailableSlot, error)
	Location() *time.Location
}

// AvailabilityServer answers slot queries with loosely typed structs:
// request {"service_id", "date"}, response {"service_id", "date", "slots": [...]}.
type AvailabilityServer interface {
	GetAvailableSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type AvailabilityService struct {
	bookings AvailabilityLookup
}

func NewAvailabilityService(bookings AvailabilityLookup) *AvailabilityService {
	return &AvailabilityService{bookings: bookings}
}

func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	serviceID := strings.TrimSpace(fields["service_id"].GetStringValue())
	if serviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "service_id is required")
	}

	dateStr := strings.TrimSpace(fields["date"].GetStringValue())
	if dateStr == "" {
		return nil, status.Error(codes.InvalidArgument, "date is required")
	}
	date, err := time.ParseInLocation(dateLayout, dateStr, s.bookings.Location())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid date format; expected YYYY-MM-DD")
	}

	available, err := s.bookings.Availability(ctx, serviceID, date)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil, status.Error(codes.NotFound, "service not found")
	case errors.Is(err, service.ErrValidation):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, "failed to resolve availability")
	}

	out := make([]interface{}, 0, len(available))
	for _, slot := range available {
		out = append(out, map[string]interface{}{
			"start":  slot.Start.Format(time.RFC3339),
			"end":    slot.End.Format(time.RFC3339),
			"period": string(slot.Period),
		})
	}

	resp, err := structpb.NewStruct(map[string]interface{}{
		"service_id": serviceID,
		"date":       dateStr,
		"slots":      out,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return resp, nil
}

func RegisterAvailabilityServer(s grpc.ServiceRegistrar, srv AvailabilityServer) {
	s.RegisterService(&availabilityServiceDesc, srv)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAvailableSlots", Handler: getAvailableSlotsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "appointly/availability/v1/availability.proto",
}

func getAvailableSlotsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).GetAvailableSlots(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getAvailableSlotsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).GetAvailableSlots(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
