package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "STOREFRONT_APP_ENV"
	EnvPort     = "STOREFRONT_APP_PORT"
	EnvLogLevel = "STOREFRONT_LOG_LEVEL"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBName = "STOREFRONT_DB_NAME"
	EnvDBPort = "STOREFRONT_DB_PORT"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvFXBaseURL      = "STOREFRONT_FX_BASE_URL"
	EnvFXMaxAge       = "STOREFRONT_FX_MAX_AGE"
	EnvCourierAPIKey  = "STOREFRONT_COURIER_API_KEY"
	EnvPaystackSecret = "STOREFRONT_PAYSTACK_SECRET_KEY"

	EnvSizeModRate       = "STOREFRONT_CHECKOUT_SIZE_MOD_RATE"
	EnvBlockApproximate  = "STOREFRONT_CHECKOUT_BLOCK_APPROXIMATE_SETTLEMENT"
	EnvGCPProjectID      = "STOREFRONT_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "STOREFRONT_PUBSUB_ORDERS_TOPIC"
	EnvCronRecoveryAfter = "STOREFRONT_CRON_RECOVERY_AFTER"
	EnvCronInFlight      = "STOREFRONT_CRON_IN_FLIGHT_EXPIRY"
	EnvOutboxBatchSize   = "STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE"
)
