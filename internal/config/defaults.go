package config

const (
	defaultDataDir              = "~/.local/share/loadout/data"
	defaultLogDir               = "~/.local/share/loadout/logs"
	defaultAPIBind              = "127.0.0.1:7519"
	defaultConfidenceThreshold  = 0.70
	defaultMaxLocalRetries      = 3
	defaultNominalFPS           = 1.0
	defaultLowBatteryFPS        = 0.2
	defaultLowBatteryLevel      = 0.20
	defaultMaxInFlight          = 2
	defaultCloudTimeoutSeconds  = 15
	defaultCloudCooldownSeconds = 5
	defaultEstimatedCostCents   = 10
	defaultDailyCostCapCents    = 1000
	defaultDailyRequestCap      = 100
	defaultBackendTimeout       = 30
	defaultStalenessMinutes     = 30
	defaultLocationDriftDegrees = 0.1
	defaultSubmissionCapacity   = 200
	defaultCaptureCapacity      = 50
	defaultMaxSyncAttempts      = 3
	defaultSyncTimeoutSeconds   = 30
	defaultNearbyRadiusKM       = 25.0
	defaultMaxCandidates        = 10
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Detection: Detection{
			ConfidenceThreshold: defaultConfidenceThreshold,
			MaxLocalRetries:     defaultMaxLocalRetries,
			NominalFPS:          defaultNominalFPS,
			LowBatteryFPS:       defaultLowBatteryFPS,
			LowBatteryLevel:     defaultLowBatteryLevel,
			MaxInFlight:         defaultMaxInFlight,
		},
		CloudVision: CloudVision{
			TimeoutSeconds:     defaultCloudTimeoutSeconds,
			CooldownSeconds:    defaultCloudCooldownSeconds,
			EstimatedCostCents: defaultEstimatedCostCents,
		},
		Budget: Budget{
			DailyCostCapCents: defaultDailyCostCapCents,
			DailyRequestCap:   defaultDailyRequestCap,
		},
		Backend: Backend{
			TimeoutSeconds: defaultBackendTimeout,
		},
		Session: Session{
			StalenessMinutes:     defaultStalenessMinutes,
			LocationDriftDegrees: defaultLocationDriftDegrees,
		},
		Queue: Queue{
			SubmissionCapacity: defaultSubmissionCapacity,
			CaptureCapacity:    defaultCaptureCapacity,
			MaxSyncAttempts:    defaultMaxSyncAttempts,
			SyncTimeoutSeconds: defaultSyncTimeoutSeconds,
		},
		Jobs: Jobs{
			NearbyRadiusKM: defaultNearbyRadiusKM,
			MaxCandidates:  defaultMaxCandidates,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Budget:         true,
			Queue:          true,
			Completion:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
