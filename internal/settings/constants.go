package settings

// DB config keys and defaults for settings.
const (
	// AutoRechargeSweepIntervalSecondsKey controls the due-attempt sweep interval in seconds.
	AutoRechargeSweepIntervalSecondsKey = "AUTO_RECHARGE_SWEEP_INTERVAL_SECONDS"
	// AutoRechargeBatchSizeKey caps attempts processed per sweep.
	AutoRechargeBatchSizeKey = "AUTO_RECHARGE_BATCH_SIZE"
	// AutoRechargeDefaultMaxRetriesKey is the retry budget for accounts without their own.
	AutoRechargeDefaultMaxRetriesKey = "AUTO_RECHARGE_DEFAULT_MAX_RETRIES"
	// AutoRechargePausedKey pauses the periodic sweep without a restart.
	AutoRechargePausedKey = "AUTO_RECHARGE_PAUSED"
	// NotificationRetentionDaysKey controls how long read notifications are kept; 0 keeps them forever.
	NotificationRetentionDaysKey = "NOTIFICATION_RETENTION_DAYS"
	// DefaultAutoRechargeSweepIntervalSeconds is the fallback sweep interval (seconds).
	DefaultAutoRechargeSweepIntervalSeconds = 60
	// DefaultAutoRechargeBatchSize is the fallback sweep batch size.
	DefaultAutoRechargeBatchSize = 50
	// DefaultAutoRechargeMaxRetries is the fallback retry budget.
	DefaultAutoRechargeMaxRetries = 3
	// DefaultNotificationRetentionDays is the fallback retention for read notifications.
	DefaultNotificationRetentionDays = 90
)
