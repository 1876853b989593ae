package common

import "github.com/spf13/viper"

// ===============================================================================
// Cluster Backing Store Related Config

// ClusterReconnectConfig defines reconnect parameters
type ClusterReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// ClusterConfig defines parameters for connecting to the shared pub/sub backing
// store used for cross-process room fan-out. ServerURI may be empty, which
// selects local-only fan-out without attempting a connection.
type ClusterConfig struct {
	// ServerURI is the backing store connection URI. Optional.
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"omitempty,uri"`
	// ConnectTimeout is the max duration for connecting to the backing store in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// PingTimeout is the max duration for the post-connect liveness probe in seconds
	PingTimeout int `mapstructure:"ping_timeout_sec" json:"ping_timeout_sec" validate:"gte=1"`
	// CloseTimeout is the max duration for draining the link on shutdown in seconds
	CloseTimeout int `mapstructure:"close_timeout_sec" json:"close_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect ClusterReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// Authentication Related Config

// AuthConfig defines credential validation parameters
type AuthConfig struct {
	// Secret is the shared secret used to verify credential signatures
	Secret string `mapstructure:"secret" json:"-" validate:"required"`
	// ValidateTimeout is the hard limit on credential validation in seconds
	ValidateTimeout int `mapstructure:"validate_timeout_sec" json:"validate_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Liveness Related Config

// LivenessConfig defines connection liveness tracking parameters
type LivenessConfig struct {
	// InactiveTimeout is how long a connection may stay silent before it is
	// warned of imminent disconnection, in minutes
	InactiveTimeout int `mapstructure:"timeout_min" json:"timeout_min" validate:"gte=1"`
	// WarningWindow is how long after the warning the connection is given to
	// show activity before eviction, in seconds
	WarningWindow int `mapstructure:"warning_sec" json:"warning_sec" validate:"gte=1"`
	// SweepInterval is the period of the background eviction sweep in minutes
	SweepInterval int `mapstructure:"sweep_interval_min" json:"sweep_interval_min" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// GatewayConfig defines the complete realtime gateway config
type GatewayConfig struct {
	// Auth are the credential validation config parameters
	Auth AuthConfig `mapstructure:"auth" json:"auth" validate:"required,dive"`
	// Liveness are the connection liveness tracking config parameters
	Liveness LivenessConfig `mapstructure:"liveness" json:"liveness" validate:"required,dive"`
	// Cluster are the pub/sub backing store config parameters
	Cluster ClusterConfig `mapstructure:"cluster" json:"cluster" validate:"required,dive"`
	// HTTPSetting is the HTTP API / server parameters for the gateway server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
}

// SystemConfig defines the complete system config
type SystemConfig struct {
	// Gateway are the realtime gateway configs
	Gateway GatewayConfig `mapstructure:"gateway" json:"gateway" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default auth settings
	viper.SetDefault("gateway.auth.validate_timeout_sec", 5)

	// Default liveness settings
	viper.SetDefault("gateway.liveness.timeout_min", 30)
	viper.SetDefault("gateway.liveness.warning_sec", 5)
	viper.SetDefault("gateway.liveness.sweep_interval_min", 5)

	// Default cluster settings
	viper.SetDefault("gateway.cluster.server_uri", "")
	viper.SetDefault("gateway.cluster.connect_timeout_sec", 15)
	viper.SetDefault("gateway.cluster.ping_timeout_sec", 5)
	viper.SetDefault("gateway.cluster.close_timeout_sec", 5)
	viper.SetDefault("gateway.cluster.reconnect.max_attempts", -1)
	viper.SetDefault("gateway.cluster.reconnect.wait_interval_sec", 15)

	// Default gateway server settings
	viper.SetDefault("gateway.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("gateway.api_server.server_config.listen_port", 3000)
	viper.SetDefault("gateway.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("gateway.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("gateway.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"gateway.api_server.logging_config.request_id_header", "Fixly-Request-ID",
	)
	viper.SetDefault(
		"gateway.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
