package interceptors

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func unaryLogger(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	start := time.Now()
	res, err := handler(ctx, req)
	logCall(info.FullMethod, start, err)
	return res, err
}

func streamLogger(
	srv interface{},
	stream grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	start := time.Now()
	err := handler(srv, stream)
	logCall(info.FullMethod, start, err)
	return err
}

func logCall(method string, start time.Time, err error) {
	entry := log.WithFields(log.Fields{
		"method":   method,
		"code":     status.Code(err).String(),
		"duration": time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Warn("gRPC call failed")
		return
	}
	entry.Debug("gRPC call")
}

func recoverPanic(p interface{}) error {
	log.Errorf("recovered from panic in gRPC handler: %v", p)
	return status.Errorf(codes.Internal, "internal error")
}
