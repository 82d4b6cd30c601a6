package context

import "errors"

// CTXKey - a type for context keys
type CTXKey string

const (
	// EnvironmentCTXKey - the key used for the running environment
	EnvironmentCTXKey CTXKey = "environment"
	// DebugLoggingCTXKey - context key for debug logging
	DebugLoggingCTXKey CTXKey = "debug_logging"
	// LogLevelCTXKey - context key for application logging level
	LogLevelCTXKey CTXKey = "log_level"
	// LogWriterCTXKey - context key for overriding the log writer
	LogWriterCTXKey CTXKey = "log_writer"
	// LoggerCTXKey - context key for the zerolog logger
	LoggerCTXKey CTXKey = "logger"

	// VersionCTXKey - context key for version of code
	VersionCTXKey CTXKey = "version"
	// CommitCTXKey - context key for the commit of the code
	CommitCTXKey CTXKey = "commit"
	// BuildTimeCTXKey - context key for the build time of code
	BuildTimeCTXKey CTXKey = "build_time"

	// DatastoreCTXKey - the context key for getting the datastore
	DatastoreCTXKey CTXKey = "datastore"
	// RedisClientCTXKey - the context key for the shared redis client
	RedisClientCTXKey CTXKey = "redis_client"
	// ServiceKey - the key used for service context
	ServiceKey CTXKey = "service"

	// BacklogCapCTXKey - context key for the per-session ingress backlog cap
	BacklogCapCTXKey CTXKey = "backlog_cap"
	// IntentTTLCTXKey - context key for the registration idempotency map TTL
	IntentTTLCTXKey CTXKey = "intent_ttl"
	// RequestStatusTTLCTXKey - context key for the request status record TTL
	RequestStatusTTLCTXKey CTXKey = "request_status_ttl"
	// AutoCloseGraceCTXKey - context key for the session auto-close grace period
	AutoCloseGraceCTXKey CTXKey = "auto_close_grace"
	// AutoCloseIntervalCTXKey - context key for the session closer scan interval
	AutoCloseIntervalCTXKey CTXKey = "auto_close_interval"
	// AutoCloseBatchCTXKey - context key for the session closer batch size
	AutoCloseBatchCTXKey CTXKey = "auto_close_batch"
	// AutoCloseLockTTLCTXKey - context key for the session closer lock TTL
	AutoCloseLockTTLCTXKey CTXKey = "auto_close_lock_ttl"
	// ConsumerIDCTXKey - context key for the stream consumer identifier
	ConsumerIDCTXKey CTXKey = "consumer_id"
	// ActorIDCTXKey - the authenticated user id for the request
	ActorIDCTXKey CTXKey = "actor_id"
	// ActorIsAdminCTXKey - whether the authenticated user is an admin
	ActorIsAdminCTXKey CTXKey = "actor_is_admin"
)

var (
	// ErrNotInContext - error you get when you ask for something not in the context
	ErrNotInContext = errors.New("value not in context")
	// ErrValueWrongType - error you get when you ask for something and it is not the type you expected
	ErrValueWrongType = errors.New("context value of wrong type")
)
