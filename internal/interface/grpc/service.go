package grpcservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hero-dungeon/dungeond/internal/config"
	interfaces "github.com/hero-dungeon/dungeond/internal/interface"
	"github.com/hero-dungeon/dungeond/internal/interface/grpc/handlers"
	"github.com/hero-dungeon/dungeond/internal/interface/grpc/interceptors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpchealth "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

type service struct {
	config       Config
	appConfig    *config.Config
	server       *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	restHandler  *handlers.Handler
	otelShutdown func(context.Context) error
}

func NewService(
	svcConfig Config, appConfig *config.Config,
) (interfaces.Service, error) {
	if err := svcConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %s", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}

	return &service{config: svcConfig, appConfig: appConfig}, nil
}

func (s *service) Start() error {
	if err := s.newServer(); err != nil {
		return err
	}

	appSvc, err := s.appConfig.AppService()
	if err != nil {
		return err
	}
	if err := appSvc.Start(); err != nil {
		return fmt.Errorf("failed to start app service: %s", err)
	}
	log.Info("started app service")

	if err := s.restHandler.Start(); err != nil {
		return fmt.Errorf("failed to start event stream: %s", err)
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped unexpectedly")
		}
	}()
	s.health.SetServingStatus("", grpchealth.HealthCheckResponse_SERVING)
	log.Infof("started listening at %s", s.config.address())

	return nil
}

func (s *service) Stop() {
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to gracefully stop server")
		}
		log.Info("stopped server")
	}
	if s.restHandler != nil {
		s.restHandler.Stop()
	}

	appSvc, _ := s.appConfig.AppService()
	if appSvc != nil {
		appSvc.Stop()
		log.Info("stopped app service")
	}

	if s.otelShutdown != nil {
		if err := s.otelShutdown(context.Background()); err != nil {
			log.WithError(err).Error("failed to shutdown otel")
		}
	}
}

func (s *service) newServer() error {
	if s.config.OtelCollectorEndpoint != "" {
		otelShutdown, err := initOpenTelemetry(
			context.Background(), s.config.OtelCollectorEndpoint,
		)
		if err != nil {
			return err
		}
		s.otelShutdown = otelShutdown
	}

	appSvc, err := s.appConfig.AppService()
	if err != nil {
		return err
	}

	s.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(otel.GetTracerProvider()),
		)),
		interceptors.UnaryInterceptor(),
		interceptors.StreamInterceptor(),
	)
	s.health = health.NewServer()
	s.health.SetServingStatus("", grpchealth.HealthCheckResponse_NOT_SERVING)
	grpchealth.RegisterHealthServer(s.grpcServer, s.health)

	s.restHandler = handlers.NewHandler(
		appSvc, s.appConfig.EventBus(), s.appConfig.Metrics().Handler(),
	)

	s.server = &http.Server{
		Addr: s.config.address(),
		Handler: h2c.NewHandler(
			router(s.grpcServer, s.restHandler.Router()), &http2.Server{},
		),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return nil
}

func router(grpcServer *grpc.Server, httpHandler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isGrpcRequest(r) {
			grpcServer.ServeHTTP(w, r)
			return
		}
		httpHandler.ServeHTTP(w, r)
	})
}

func isGrpcRequest(req *http.Request) bool {
	return req.ProtoMajor == 2 &&
		strings.HasPrefix(req.Header.Get("Content-Type"), "application/grpc")
}
