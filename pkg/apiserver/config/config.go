package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

// Config holds every tunable of the order mesh processes. One struct is shared
// by the api, worker and notifier roles; each role reads the parts it needs.
type Config struct {
	// BindAddr is the HTTP bind address for the api and notifier roles.
	BindAddr string

	// InstanceID identifies this process instance. Used as the broker
	// consumer name and the realtime backplane origin tag.
	InstanceID string

	Redis RedisConfig

	Datastore DatastoreConfig

	Messaging MessagingConfig

	Workflow WorkflowConfig

	Realtime RealtimeConfig

	Resilience ResilienceConfig

	// EnableTracing enables the OpenTelemetry tracer provider.
	EnableTracing bool

	// JaegerEndpoint is the endpoint of the Jaeger collector. Empty means
	// traces stay local (trace ids in logs only).
	JaegerEndpoint string
}

// RedisConfig is the shared transient-store connection config.
type RedisConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// DatastoreConfig configures the relational system of record.
type DatastoreConfig struct {
	Type string // mysql
	URL  string
}

// MessagingConfig selects the broker technology and its queue names.
type MessagingConfig struct {
	Type          string // noop|redis|kafka
	ChannelPrefix string
	KafkaBrokers  []string
	// RedisStreamMaxLen caps stream length via XADD MAXLEN; <=0 disables trimming.
	RedisStreamMaxLen int64
	// MaxDeliveryAttempts bounds the listener's requeue-with-counter retry path.
	MaxDeliveryAttempts int
	// ReadBlock is how long a listener blocks waiting for messages per poll.
	ReadBlock time.Duration
	// AutoClaimMinIdle is how long a pending message may sit unacked before
	// another consumer claims it.
	AutoClaimMinIdle time.Duration
}

// WorkflowConfig configures the transient workflow-state store and registry.
type WorkflowConfig struct {
	// StateTTL bounds every workflow-state and correlation-mapping key.
	StateTTL time.Duration
}

// RealtimeConfig configures the websocket channel and its backplane.
type RealtimeConfig struct {
	// BackplaneChannel is the pub/sub channel shared by all notifier instances.
	BackplaneChannel string
	// SendBuffer is the per-connection outgoing frame buffer; slow consumers
	// beyond it get frames dropped rather than blocking the fan-out loop.
	SendBuffer int
	// PingInterval drives server-side liveness pings.
	PingInterval time.Duration
}

// ResilienceConfig tunes the shared timeout/retry/breaker policy.
type ResilienceConfig struct {
	AttemptTimeout time.Duration
	// RetrySchedule is the fixed wait between attempts, e.g. 200ms,500ms,1s.
	RetrySchedule []time.Duration
	// BreakerFailures is the run of consecutive failures that opens the circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long an open circuit short-circuits calls.
	BreakerCooldown time.Duration
}

// NewConfig returns a Config populated with development defaults.
func NewConfig() *Config {
	return &Config{
		BindAddr:   "0.0.0.0:8000",
		InstanceID: uuid.NewString(),
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Datastore: DatastoreConfig{
			Type: "mysql",
			URL:  "root:123456@tcp(127.0.0.1:3306)/ordermesh?charset=utf8&parseTime=true",
		},
		Messaging: MessagingConfig{
			Type:                "redis",
			ChannelPrefix:       "ordermesh",
			RedisStreamMaxLen:   10000,
			MaxDeliveryAttempts: 5,
			ReadBlock:           5 * time.Second,
			AutoClaimMinIdle:    time.Minute,
		},
		Workflow: WorkflowConfig{
			StateTTL: 30 * time.Minute,
		},
		Realtime: RealtimeConfig{
			BackplaneChannel: "ordermesh.notifications",
			SendBuffer:       16,
			PingInterval:     30 * time.Second,
		},
		Resilience: ResilienceConfig{
			AttemptTimeout:  2 * time.Second,
			RetrySchedule:   []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second},
			BreakerFailures: 5,
			BreakerCooldown: 15 * time.Second,
		},
		EnableTracing: true,
	}
}

// Validate returns configuration errors, if any.
func (c *Config) Validate() []error {
	var errs []error
	switch c.Messaging.Type {
	case "noop", "redis", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unsupported messaging type %q", c.Messaging.Type))
	}
	if c.Messaging.Type == "kafka" && len(c.Messaging.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka messaging requires at least one broker"))
	}
	if c.Workflow.StateTTL <= 0 {
		errs = append(errs, fmt.Errorf("workflow state TTL must be positive"))
	}
	return errs
}

// AddFlags registers command line flags for the shared config.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.BindAddr, "bind-addr", c.BindAddr, "The bind address of the HTTP server.")
	fs.StringVar(&c.InstanceID, "instance-id", c.InstanceID, "Unique id of this process instance.")
	fs.StringVar(&c.Redis.Host, "redis-host", c.Redis.Host, "Redis host for the transient store and backplane.")
	fs.IntVar(&c.Redis.Port, "redis-port", c.Redis.Port, "Redis port.")
	fs.StringVar(&c.Redis.Username, "redis-username", c.Redis.Username, "Redis username.")
	fs.StringVar(&c.Redis.Password, "redis-password", c.Redis.Password, "Redis password.")
	fs.IntVar(&c.Redis.DB, "redis-db", c.Redis.DB, "Redis logical database.")
	fs.StringVar(&c.Datastore.Type, "datastore-type", c.Datastore.Type, "Datastore type, only mysql is supported.")
	fs.StringVar(&c.Datastore.URL, "datastore-url", c.Datastore.URL, "Datastore connection URL.")
	fs.StringVar(&c.Messaging.Type, "messaging-type", c.Messaging.Type, "Broker type: noop, redis or kafka.")
	fs.StringVar(&c.Messaging.ChannelPrefix, "messaging-prefix", c.Messaging.ChannelPrefix, "Prefix for queue and channel names.")
	fs.StringSliceVar(&c.Messaging.KafkaBrokers, "kafka-brokers", c.Messaging.KafkaBrokers, "Kafka bootstrap brokers.")
	fs.Int64Var(&c.Messaging.RedisStreamMaxLen, "redis-stream-maxlen", c.Messaging.RedisStreamMaxLen, "Max length of redis stream queues, <=0 disables trimming.")
	fs.IntVar(&c.Messaging.MaxDeliveryAttempts, "max-delivery-attempts", c.Messaging.MaxDeliveryAttempts, "Max delivery attempts before a message is dead-lettered.")
	fs.DurationVar(&c.Workflow.StateTTL, "workflow-state-ttl", c.Workflow.StateTTL, "TTL of transient workflow state and correlation mappings.")
	fs.StringVar(&c.Realtime.BackplaneChannel, "backplane-channel", c.Realtime.BackplaneChannel, "Pub/sub channel shared by notifier instances.")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", c.EnableTracing, "Enable the OpenTelemetry tracer provider.")
	fs.StringVar(&c.JaegerEndpoint, "jaeger-endpoint", c.JaegerEndpoint, "Jaeger collector endpoint, empty disables export.")
}

// QueueName returns the fully prefixed queue name for a routing key.
func (c *Config) QueueName(routingKey string) string {
	prefix := c.Messaging.ChannelPrefix
	if prefix == "" {
		prefix = "ordermesh"
	}
	return fmt.Sprintf("%s.%s", prefix, routingKey)
}
