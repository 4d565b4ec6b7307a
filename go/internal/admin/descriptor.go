package admin

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully-qualified name of the admin service.
	ServiceName = "reflex.admin.v1.AdminService"

	ListRoomsProcedure = "/" + ServiceName + "/ListRooms"
	GetRoomProcedure   = "/" + ServiceName + "/GetRoom"
)

var (
	filesOnce sync.Once
	files     *protoregistry.Files
	filesErr  error
)

// adminFileDescriptor describes the service in terms of well-known types so
// reflection clients (grpcurl, grpcui) can call it without generated code.
func adminFileDescriptor() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("reflex/admin/v1/admin.proto"),
		Package: proto.String("reflex.admin.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/empty.proto",
			"google/protobuf/struct.proto",
			"google/protobuf/wrappers.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("AdminService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String("ListRooms"),
					InputType:  proto.String(".google.protobuf.Empty"),
					OutputType: proto.String(".google.protobuf.Struct"),
				},
				{
					Name:       proto.String("GetRoom"),
					InputType:  proto.String(".google.protobuf.StringValue"),
					OutputType: proto.String(".google.protobuf.Struct"),
				},
			},
		}},
	}
}

// Files returns a registry holding the admin service and its dependencies.
func Files() (*protoregistry.Files, error) {
	filesOnce.Do(func() {
		reg := new(protoregistry.Files)
		for _, dep := range []protoreflect.FileDescriptor{
			emptypb.File_google_protobuf_empty_proto,
			structpb.File_google_protobuf_struct_proto,
			wrapperspb.File_google_protobuf_wrappers_proto,
		} {
			if err := reg.RegisterFile(dep); err != nil {
				filesErr = fmt.Errorf("register %s: %w", dep.Path(), err)
				return
			}
		}

		fd, err := protodesc.NewFile(adminFileDescriptor(), reg)
		if err != nil {
			filesErr = fmt.Errorf("build admin descriptor: %w", err)
			return
		}
		if err := reg.RegisterFile(fd); err != nil {
			filesErr = fmt.Errorf("register admin descriptor: %w", err)
			return
		}
		files = reg
	})
	return files, filesErr
}

// ServiceDescriptor returns the admin service descriptor.
func ServiceDescriptor() (protoreflect.ServiceDescriptor, error) {
	reg, err := Files()
	if err != nil {
		return nil, err
	}
	d, err := reg.FindDescriptorByName(ServiceName)
	if err != nil {
		return nil, err
	}
	sd, ok := d.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a service", ServiceName)
	}
	return sd, nil
}
