package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/backplane"
	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/domain/service"
	"ordermesh/pkg/apiserver/infrastructure/clients"
	msg "ordermesh/pkg/apiserver/infrastructure/messaging"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
	"ordermesh/pkg/apiserver/infrastructure/statestore"
	"ordermesh/pkg/apiserver/interfaces/api"
	"ordermesh/pkg/apiserver/interfaces/api/middleware"
	"ordermesh/pkg/apiserver/realtime"
	"ordermesh/pkg/apiserver/utils/container"
)

// notifierServer is the notification role: it consumes processed events,
// serves the websocket channel and relays pushes between instances over the
// backplane.
type notifierServer struct {
	webContainer  *gin.Engine
	beanContainer *container.Container
	cfg           config.Config
	hub           *realtime.Hub
	listener      *msg.Listener
}

// NewNotifier create the notifier server with config data
func NewNotifier(cfg config.Config) Server {
	return &notifierServer{
		webContainer:  gin.New(),
		beanContainer: container.NewContainer(),
		cfg:           cfg,
	}
}

func (s *notifierServer) buildIoCContainer() error {
	rcli, err := clients.EnsureRedis(s.cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect transient store: %w", err)
	}
	policy := resilience.NewPolicy("transient-store", s.cfg.Resilience)
	registry := statestore.NewRegistry(rcli, policy, s.cfg.Workflow.StateTTL)
	workflow := statestore.NewWorkflowStore(rcli, policy, s.cfg.Workflow.StateTTL)

	var broker backplane.Broker = backplane.NewRedisBrokerWithClient(rcli)
	publishPolicy := resilience.NewPolicy("backplane-publish", s.cfg.Resilience)
	s.hub = realtime.NewHub(broker, publishPolicy, s.cfg.Realtime, registry, workflow)

	notifyService := service.NewNotifyService()
	verifier := &middleware.PlainTokenVerifier{}

	processedQueue, err := msg.OpenQueue(&s.cfg, config.RouteOrderProcessed)
	if err != nil {
		return fmt.Errorf("open processed queue: %w", err)
	}
	if err := s.beanContainer.ProvideWithName("queue", processedQueue); err != nil {
		return fmt.Errorf("fail to provides the queue bean to the container: %w", err)
	}
	// The hub doubles as the service.Notifier bean.
	if err := s.beanContainer.Provides(registry, workflow, s.hub, verifier, &s.cfg, notifyService); err != nil {
		return fmt.Errorf("fail to provides the notifier beans to the container: %w", err)
	}
	if err := s.beanContainer.Provides(api.InitNotifierAPIBean()...); err != nil {
		return fmt.Errorf("fail to provides the api bean to the container: %w", err)
	}
	if err := s.beanContainer.Populate(); err != nil {
		return fmt.Errorf("fail to populate the bean container: %w", err)
	}

	deadQueue, err := msg.OpenDeadLetterQueue(&s.cfg, config.RouteOrderProcessed)
	if err != nil {
		return fmt.Errorf("open dead-letter queue: %w", err)
	}
	s.listener = msg.NewListener(processedQueue, deadQueue, notifyService.HandleOrderProcessed, msg.ListenerOptions{
		Group:            config.NotifierGroup,
		Consumer:         s.cfg.InstanceID,
		MaxAttempts:      s.cfg.Messaging.MaxDeliveryAttempts,
		ReadBlock:        s.cfg.Messaging.ReadBlock,
		AutoClaimMinIdle: s.cfg.Messaging.AutoClaimMinIdle,
	})
	return nil
}

func (s *notifierServer) registerAPIRoute() {
	s.webContainer.Use(gin.Recovery())
	s.webContainer.Use(middleware.CORS(nil))
	if s.cfg.EnableTracing {
		s.webContainer.Use(otelgin.Middleware("ordermesh-notifier"))
	}
	registerRoutes(s.webContainer)
}

func (s *notifierServer) Run(ctx context.Context, errChan chan error) error {
	if err := s.buildIoCContainer(); err != nil {
		return err
	}
	s.registerAPIRoute()

	go func() {
		if err := s.hub.Run(ctx); err != nil && ctx.Err() == nil {
			klog.Errorf("realtime hub stopped: %v", err)
			reportRunError(errChan, err)
		}
	}()
	go s.listener.Start(ctx, errChan)

	// Long-lived websocket connections rule out server-side read and write
	// timeouts here.
	klog.Infof("notifier APIs are being served on: %s", s.cfg.BindAddr)
	server := &http.Server{
		Addr:              s.cfg.BindAddr,
		Handler:           s.webContainer,
		ReadHeaderTimeout: 2 * time.Second,
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
		return nil
	}
	return err
}

func reportRunError(errChan chan error, err error) {
	select {
	case errChan <- err:
	default:
	}
}
