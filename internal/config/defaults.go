package config

const (
	defaultDataDir                 = "~/.local/share/stride"
	defaultArtifactDir             = "~/.local/share/stride/artifacts"
	defaultLogDir                  = "~/.local/share/stride/logs"
	defaultAPIBind                 = "127.0.0.1:7620"
	defaultPollInterval            = 10
	defaultErrorRetryInterval      = 10
	defaultMaxRetries              = 3
	defaultPriority                = 5
	defaultBackoffBase             = 30
	defaultBackoffMax              = 900
	defaultHeartbeatInterval       = 15
	defaultHeartbeatTimeout        = 300
	defaultGatewayTimeout          = 30
	defaultGatewayRateLimit        = 5
	defaultGatewayBurst            = 5
	defaultAnalysisEngine          = EngineHeuristic
	defaultAnalysisTimeout         = 300
	defaultFFprobeBinary           = "ffprobe"
	defaultProbeTimeout            = 60
	defaultRetentionDays           = 30
	defaultRetentionInterval       = 360
	defaultHealthInterval          = 5
	defaultAggregateInterval       = 60
	defaultLogRetentionInterval    = 1440
	defaultMinFreeDiskMiB          = 512
	defaultAggregateTrendSamples   = 10
	defaultNotifyRequestTimeout    = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 60
	defaultMetricsPath             = "/metrics"
	defaultTracingServiceName      = "strided"
	defaultUserAgentProductVersion = "Stride/0.1.0"
)

// Analysis engine identifiers accepted by analysis.engine.
const (
	EngineHeuristic = "heuristic"
	EngineHTTP      = "http"
)

// UserAgent is sent by outbound HTTP clients.
const UserAgent = defaultUserAgentProductVersion

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Dispatcher: Dispatcher{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxRetries:         defaultMaxRetries,
			DefaultPriority:    defaultPriority,
			BackoffBase:        defaultBackoffBase,
			BackoffMax:         defaultBackoffMax,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Gateway: Gateway{
			TimeoutSeconds: defaultGatewayTimeout,
			RateLimit:      defaultGatewayRateLimit,
			Burst:          defaultGatewayBurst,
		},
		Analysis: Analysis{
			Engine:         defaultAnalysisEngine,
			TimeoutSeconds: defaultAnalysisTimeout,
		},
		Media: Media{
			FFprobeBinary:  defaultFFprobeBinary,
			ProbeArtifacts: true,
			ProbeTimeout:   defaultProbeTimeout,
		},
		Maintenance: Maintenance{
			RetentionDays:         defaultRetentionDays,
			RetentionInterval:     defaultRetentionInterval,
			HealthInterval:        defaultHealthInterval,
			AggregateInterval:     defaultAggregateInterval,
			LogRetentionInterval:  defaultLogRetentionInterval,
			MinFreeDiskMiB:        defaultMinFreeDiskMiB,
			AggregateTrendSamples: defaultAggregateTrendSamples,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Failed:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    defaultMetricsPath,
		},
		Tracing: Tracing{
			ServiceName: defaultTracingServiceName,
		},
	}
}
