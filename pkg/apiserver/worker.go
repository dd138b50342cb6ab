package apiserver

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/domain/service"
	"ordermesh/pkg/apiserver/infrastructure/clients"
	"ordermesh/pkg/apiserver/infrastructure/datastore/mysql"
	msg "ordermesh/pkg/apiserver/infrastructure/messaging"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
	"ordermesh/pkg/apiserver/infrastructure/statestore"
	"ordermesh/pkg/apiserver/utils/container"
)

// workerServer is the processing role: a broker consumer that commits
// accepted orders to the system of record and announces the results.
type workerServer struct {
	beanContainer *container.Container
	cfg           config.Config
	listener      *msg.Listener
}

// NewWorker create the order processing worker with config data
func NewWorker(cfg config.Config) Server {
	return &workerServer{
		beanContainer: container.NewContainer(),
		cfg:           cfg,
	}
}

func (s *workerServer) buildIoCContainer() error {
	store, err := mysql.New(context.Background(), s.cfg.Datastore)
	if err != nil {
		return fmt.Errorf("create mysql datastore instance failure %w", err)
	}

	rcli, err := clients.EnsureRedis(s.cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect transient store: %w", err)
	}
	policy := resilience.NewPolicy("transient-store", s.cfg.Resilience)
	workflow := statestore.NewWorkflowStore(rcli, policy, s.cfg.Workflow.StateTTL)

	processedQueue, err := msg.OpenQueue(&s.cfg, config.RouteOrderProcessed)
	if err != nil {
		return fmt.Errorf("open processed queue: %w", err)
	}
	publisher := msg.NewQueuePublisher(
		resilience.NewPolicy("broker-publish", s.cfg.Resilience),
		map[string]msg.Queue{config.RouteOrderProcessed: processedQueue},
	)

	processService := service.NewProcessService()
	if err := s.beanContainer.Provides(store, workflow, publisher, &s.cfg, processService); err != nil {
		return fmt.Errorf("fail to provides the worker beans to the container: %w", err)
	}
	if err := s.beanContainer.Populate(); err != nil {
		return fmt.Errorf("fail to populate the bean container: %w", err)
	}

	acceptedQueue, err := msg.OpenQueue(&s.cfg, config.RouteOrderAccepted)
	if err != nil {
		return fmt.Errorf("open accepted queue: %w", err)
	}
	deadQueue, err := msg.OpenDeadLetterQueue(&s.cfg, config.RouteOrderAccepted)
	if err != nil {
		return fmt.Errorf("open dead-letter queue: %w", err)
	}
	s.listener = msg.NewListener(acceptedQueue, deadQueue, processService.HandleOrderAccepted, msg.ListenerOptions{
		Group:            config.DefaultConsumerGroup,
		Consumer:         s.cfg.InstanceID,
		MaxAttempts:      s.cfg.Messaging.MaxDeliveryAttempts,
		ReadBlock:        s.cfg.Messaging.ReadBlock,
		AutoClaimMinIdle: s.cfg.Messaging.AutoClaimMinIdle,
	})
	return nil
}

func (s *workerServer) Run(ctx context.Context, errChan chan error) error {
	if err := s.buildIoCContainer(); err != nil {
		return err
	}
	klog.Infof("order worker %s consuming %s", s.cfg.InstanceID, config.RouteOrderAccepted)
	s.listener.Start(ctx, errChan)
	return ctx.Err()
}
