// Package apiserver assembles the three deployable roles of the order mesh:
// the api role accepting orders, the worker role committing them, and the
// notifier role pushing completions to connected users.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/domain/service"
	"ordermesh/pkg/apiserver/infrastructure/clients"
	msg "ordermesh/pkg/apiserver/infrastructure/messaging"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
	"ordermesh/pkg/apiserver/infrastructure/statestore"
	"ordermesh/pkg/apiserver/interfaces/api"
	"ordermesh/pkg/apiserver/interfaces/api/middleware"
	"ordermesh/pkg/apiserver/utils/container"
)

// Server is one deployable role of the order mesh.
type Server interface {
	Run(context.Context, chan error) error
}

// apiServer is the acceptance role: the HTTP surface that validates orders,
// records their workflow state and hands them to the broker.
type apiServer struct {
	webContainer  *gin.Engine
	beanContainer *container.Container
	cfg           config.Config
}

// New create api server with config data
func New(cfg config.Config) Server {
	return &apiServer{
		webContainer:  gin.New(),
		beanContainer: container.NewContainer(),
		cfg:           cfg,
	}
}

func (s *apiServer) buildIoCContainer() error {
	rcli, err := clients.EnsureRedis(s.cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect transient store: %w", err)
	}
	policy := resilience.NewPolicy("transient-store", s.cfg.Resilience)
	workflow := statestore.NewWorkflowStore(rcli, policy, s.cfg.Workflow.StateTTL)

	queue, err := msg.OpenQueue(&s.cfg, config.RouteOrderAccepted)
	if err != nil {
		return fmt.Errorf("open accepted queue: %w", err)
	}
	publisher := msg.NewQueuePublisher(
		resilience.NewPolicy("broker-publish", s.cfg.Resilience),
		map[string]msg.Queue{config.RouteOrderAccepted: queue},
	)

	if err := s.beanContainer.ProvideWithName("queue", queue); err != nil {
		return fmt.Errorf("fail to provides the queue bean to the container: %w", err)
	}
	if err := s.beanContainer.Provides(workflow, publisher, &middleware.PlainTokenVerifier{}, &s.cfg); err != nil {
		return fmt.Errorf("fail to provides the infrastructure beans to the container: %w", err)
	}
	if err := s.beanContainer.Provides(service.NewOrderService()); err != nil {
		return fmt.Errorf("fail to provides the service bean to the container: %w", err)
	}
	if err := s.beanContainer.Provides(api.InitAPIBean()...); err != nil {
		return fmt.Errorf("fail to provides the api bean to the container: %w", err)
	}
	if err := s.beanContainer.Populate(); err != nil {
		return fmt.Errorf("fail to populate the bean container: %w", err)
	}
	return nil
}

func (s *apiServer) registerAPIRoute() {
	s.webContainer.Use(gin.Recovery())
	s.webContainer.Use(middleware.CORS(nil))
	if s.cfg.EnableTracing {
		s.webContainer.Use(otelgin.Middleware("ordermesh-api"))
	}
	registerRoutes(s.webContainer)
}

func (s *apiServer) Run(ctx context.Context, errChan chan error) error {
	if err := s.buildIoCContainer(); err != nil {
		return err
	}
	s.registerAPIRoute()
	return serveHTTP(ctx, s.cfg.BindAddr, s.webContainer)
}

// registerRoutes binds every registered API handler under each api prefix.
func registerRoutes(engine *gin.Engine) {
	apis := api.GetRegisteredAPI()
	for _, prefix := range api.GetAPIPrefix() {
		group := engine.Group(prefix)
		for _, handler := range apis {
			handler.RegisterRoutes(group)
		}
	}
}

// serveHTTP runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	klog.Infof("HTTP APIs are being served on: %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownComplete := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("HTTP server graceful shutdown error: %v", err)
			if closeErr := server.Close(); closeErr != nil {
				klog.Errorf("HTTP server force close error: %v", closeErr)
			}
		}
		close(shutdownComplete)
	}()

	err := server.ListenAndServe()
	<-shutdownComplete
	if err == http.ErrServerClosed {
		klog.Info("HTTP server closed normally")
		return nil
	}
	return err
}
