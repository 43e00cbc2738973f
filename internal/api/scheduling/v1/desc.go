// Package schedulingv1 описывает gRPC-сервис планировщика. Запросы и ответы
// передаются как google.protobuf.Struct, ответ всегда в конверте
// {success, message, data}.
package schedulingv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "clinic.scheduling.v1.SchedulingService"

// SchedulingServer — серверная часть SchedulingService.
type SchedulingServer interface {
	CreateAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefundAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkNoShow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RescheduleAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateSchedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateShifts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveScheduleShifts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeactivateShift(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReactivateShift(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCalendarEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFreeSlots(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(SchedulingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SchedulingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SchedulingServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var SchedulingService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulingServer)(nil),
	Methods: []grpc.MethodDesc{
		method("CreateAppointment", SchedulingServer.CreateAppointment),
		method("ConfirmAppointment", SchedulingServer.ConfirmAppointment),
		method("CancelAppointment", SchedulingServer.CancelAppointment),
		method("RefundAppointment", SchedulingServer.RefundAppointment),
		method("MarkNoShow", SchedulingServer.MarkNoShow),
		method("RescheduleAppointment", SchedulingServer.RescheduleAppointment),
		method("GetAppointment", SchedulingServer.GetAppointment),
		method("CreateSchedule", SchedulingServer.CreateSchedule),
		method("GenerateShifts", SchedulingServer.GenerateShifts),
		method("RemoveScheduleShifts", SchedulingServer.RemoveScheduleShifts),
		method("DeactivateShift", SchedulingServer.DeactivateShift),
		method("ReactivateShift", SchedulingServer.ReactivateShift),
		method("ListCalendarEvents", SchedulingServer.ListCalendarEvents),
		method("ListFreeSlots", SchedulingServer.ListFreeSlots),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clinic/scheduling/v1/scheduling.proto",
}

func RegisterSchedulingServer(s grpc.ServiceRegistrar, srv SchedulingServer) {
	s.RegisterService(&SchedulingService_ServiceDesc, srv)
}

// SchedulingClient вызывает методы по имени.
type SchedulingClient struct {
	cc grpc.ClientConnInterface
}

func NewSchedulingClient(cc grpc.ClientConnInterface) *SchedulingClient {
	return &SchedulingClient{cc: cc}
}

func (c *SchedulingClient) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
