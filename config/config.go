package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"vine-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`

	// Tracing (OTLP HTTP)
	TracingEnabled bool   `env:"TRACING_ENABLED" env-default:"false"`
	OTLPEndpoint   string `env:"OTLP_ENDPOINT" env-default:"localhost:4318"`
	OTLPInsecure   bool   `env:"OTLP_INSECURE" env-default:"true"`

	// PostgreSQL (journey definitions + execution state)
	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"vine"`
	DatabaseSSLMode             string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`

	// Graph Database (Memgraph) for journey flow projections
	GraphDBEnabled  bool   `env:"GRAPH_DB_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Kafka Consumer (journey trigger events from upstream rule evaluators)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaTriggerTopic    string   `env:"KAFKA_TRIGGER_TOPIC" env-default:"journey-triggers"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"vine-trigger-consumer"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka Producer settings
	KafkaEventTopic    string `env:"KAFKA_EVENT_TOPIC" env-default:"journey-events"`
	KafkaDeliveryTopic string `env:"KAFKA_DELIVERY_TOPIC" env-default:"message-deliveries"`
	KafkaBatchSize     int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout  int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks  int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression   string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Scheduler / Advancer
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" env-default:"15s"`
	SweepBatchSize     int           `env:"SWEEP_BATCH_SIZE" env-default:"200"`
	AdvancerWorkers    int           `env:"ADVANCER_WORKER_COUNT" env-default:"4"`
	MaxStepsPerTick    int           `env:"MAX_STEPS_PER_TICK" env-default:"25"`
	ClaimLeaseTimeout  time.Duration `env:"CLAIM_LEASE_TIMEOUT" env-default:"2m"`
	ActionTimeout      time.Duration `env:"ACTION_TIMEOUT" env-default:"10s"`
	ActionMaxAttempts  int           `env:"ACTION_MAX_ATTEMPTS" env-default:"5"`
	ActionRetryBackoff time.Duration `env:"ACTION_RETRY_BACKOFF" env-default:"1m"`

	// Maintenance (stale lease reclaim + terminal execution purge)
	ReaperCronSchedule string        `env:"REAPER_CRON_SCHEDULE" env-default:"*/5 * * * *"`
	ExecutionRetention time.Duration `env:"EXECUTION_RETENTION" env-default:"2160h"` // 90 days
}
