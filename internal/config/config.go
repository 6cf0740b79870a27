package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "OJM_DRONE_REMOTE_LISTEN_ADDR"
	envVarMode            = "OJM_DRONE_REMOTE_MODE"
	envVarLogFormat       = "OJM_DRONE_REMOTE_LOG_FORMAT"
	envVarLogLevel        = "OJM_DRONE_REMOTE_LOG_LEVEL"
	envVarShutdownTimeout = "OJM_DRONE_REMOTE_SHUTDOWN_TIMEOUT"

	// Room-key creation is gated by bearer tokens. Tokens are supplied as a
	// comma-separated list so operators can rotate without downtime.
	envVarAccessTokens = "OJM_DRONE_REMOTE_ACCESS_TOKENS"

	// Local endpoint (host device) connection knobs.
	envVarMaxLocalClients           = "MAX_LOCAL_CLIENT_COUNT"
	envVarMaxLocalClientMsgBytes    = "MAX_LOCAL_CLIENT_MESSAGE_BYTES"
	envVarMaxLocalClientMsgsPerSec  = "MAX_LOCAL_CLIENT_MESSAGES_PER_SECOND"
	envVarLocalClientPingInterval   = "LOCAL_CLIENT_PING_INTERVAL"
	envVarLocalClientPongTimeout    = "LOCAL_CLIENT_TIMEOUT"
	envVarTicketTTL                 = "TICKET_EXPIRES_IN"

	// ICE server configuration pushed to the local endpoint on connect.
	envVarStunURLs       = "OJM_STUN_URLS"
	envVarTurnURLs       = "OJM_TURN_URLS"
	envVarTurnUsername   = "OJM_TURN_USERNAME"
	envVarTurnCredential = "OJM_TURN_CREDENTIAL"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev

	DefaultMaxLocalClients          = 5
	DefaultMaxLocalClientMsgBytes   = int64(8 * 1024)
	DefaultMaxLocalClientMsgsPerSec = 50
	DefaultLocalClientPingInterval  = 5 * time.Second
	DefaultLocalClientPongTimeout   = 15 * time.Second
	DefaultTicketTTL                = 60 * time.Second

	DefaultTURNRESTTTLSeconds     int64 = 3600
	DefaultTURNRESTUsernamePrefix       = "ojm"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AccessTokens are the bearer tokens accepted by /generateKey and
	// /validateAccessToken.
	AccessTokens []string

	// Local endpoint admission + keepalive.
	MaxLocalClients                 int
	MaxLocalClientMessageBytes      int64
	MaxLocalClientMessagesPerSecond int
	LocalClientPingInterval         time.Duration
	LocalClientPongTimeout          time.Duration

	// TicketTTL bounds how long an issued ticket may remain unconsumed.
	TicketTTL time.Duration

	// Static ICE servers advertised to the local endpoint.
	StunURLs       []string
	TurnURLs       []string
	TurnUsername   string
	TurnCredential string

	TURNREST TurnRESTConfig
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	accessTokensStr := envOrDefault(lookup, envVarAccessTokens, "")
	stunURLs := envOrDefault(lookup, envVarStunURLs, "")
	turnURLs := envOrDefault(lookup, envVarTurnURLs, "")
	turnUsername := envOrDefault(lookup, envVarTurnUsername, "")
	turnCredential := envOrDefault(lookup, envVarTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	maxLocalClients, err := envIntOrDefault(lookup, envVarMaxLocalClients, DefaultMaxLocalClients)
	if err != nil {
		return Config{}, err
	}
	maxLocalClientMsgsPerSec, err := envIntOrDefault(lookup, envVarMaxLocalClientMsgsPerSec, DefaultMaxLocalClientMsgsPerSec)
	if err != nil {
		return Config{}, err
	}

	maxLocalClientMsgBytes := DefaultMaxLocalClientMsgBytes
	if raw, ok := lookup(envVarMaxLocalClientMsgBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxLocalClientMsgBytes, raw, err)
		}
		maxLocalClientMsgBytes = n
	}

	pingInterval, err := envDurationOrDefault(lookup, envVarLocalClientPingInterval, DefaultLocalClientPingInterval)
	if err != nil {
		return Config{}, err
	}
	pongTimeout, err := envDurationOrDefault(lookup, envVarLocalClientPongTimeout, DefaultLocalClientPongTimeout)
	if err != nil {
		return Config{}, err
	}
	ticketTTL, err := envDurationOrDefault(lookup, envVarTicketTTL, DefaultTicketTTL)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("ojm-drone-remote", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&accessTokensStr, "access-tokens", accessTokensStr, "Comma-separated bearer tokens for room-key creation (env "+envVarAccessTokens+")")
	fs.IntVar(&maxLocalClients, "max-local-clients", maxLocalClients, "Maximum concurrent local endpoint connections (env "+envVarMaxLocalClients+")")
	fs.Int64Var(&maxLocalClientMsgBytes, "max-local-client-message-bytes", maxLocalClientMsgBytes, "Max inbound signaling message size in bytes (env "+envVarMaxLocalClientMsgBytes+")")
	fs.IntVar(&maxLocalClientMsgsPerSec, "max-local-client-messages-per-second", maxLocalClientMsgsPerSec, "Max inbound signaling messages per second per connection (env "+envVarMaxLocalClientMsgsPerSec+")")
	fs.DurationVar(&pingInterval, "local-client-ping-interval", pingInterval, "Keepalive ping interval for local connections (must be < --local-client-pong-timeout; env "+envVarLocalClientPingInterval+")")
	fs.DurationVar(&pongTimeout, "local-client-pong-timeout", pongTimeout, "Force-close a local connection after this long without a pong (env "+envVarLocalClientPongTimeout+")")
	fs.DurationVar(&ticketTTL, "ticket-ttl", ticketTTL, "Lifetime of an unconsumed connection ticket (env "+envVarTicketTTL+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envVarStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envVarTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "Static TURN username (env "+envVarTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "Static TURN credential (env "+envVarTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	accessTokens := splitCommaList(accessTokensStr)
	if len(accessTokens) == 0 {
		return Config{}, fmt.Errorf("%s/--access-tokens must not be empty", envVarAccessTokens)
	}
	if maxLocalClients <= 0 {
		return Config{}, fmt.Errorf("%s/--max-local-clients must be > 0", envVarMaxLocalClients)
	}
	if maxLocalClientMsgBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-local-client-message-bytes must be > 0", envVarMaxLocalClientMsgBytes)
	}
	if maxLocalClientMsgsPerSec <= 0 {
		return Config{}, fmt.Errorf("%s/--max-local-client-messages-per-second must be > 0", envVarMaxLocalClientMsgsPerSec)
	}
	if pingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--local-client-ping-interval must be > 0", envVarLocalClientPingInterval)
	}
	if pongTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--local-client-pong-timeout must be > 0", envVarLocalClientPongTimeout)
	}
	if pingInterval >= pongTimeout {
		return Config{}, fmt.Errorf("%s/--local-client-ping-interval must be < %s/--local-client-pong-timeout", envVarLocalClientPingInterval, envVarLocalClientPongTimeout)
	}
	if ticketTTL <= 0 {
		return Config{}, fmt.Errorf("%s/--ticket-ttl must be > 0", envVarTicketTTL)
	}
	if turnRESTTTLSeconds <= 0 {
		return Config{}, fmt.Errorf("%s/--turn-rest-ttl-seconds must be > 0", envVarTURNRESTTTLSeconds)
	}
	if strings.TrimSpace(turnRESTUsernamePrefix) == "" {
		return Config{}, fmt.Errorf("%s/--turn-rest-username-prefix must not be empty", envVarTURNRESTUsernamePrefix)
	}

	return Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,

		AccessTokens: accessTokens,

		MaxLocalClients:                 maxLocalClients,
		MaxLocalClientMessageBytes:      maxLocalClientMsgBytes,
		MaxLocalClientMessagesPerSecond: maxLocalClientMsgsPerSec,
		LocalClientPingInterval:         pingInterval,
		LocalClientPongTimeout:          pongTimeout,

		TicketTTL: ticketTTL,

		StunURLs:       splitCommaList(stunURLs),
		TurnURLs:       splitCommaList(turnURLs),
		TurnUsername:   turnUsername,
		TurnCredential: turnCredential,

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(s))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	default:
		return "", fmt.Errorf("unsupported mode %q (want dev or prod)", s)
	}
}

func parseLogFormat(s string) (LogFormat, error) {
	switch LogFormat(strings.TrimSpace(strings.ToLower(s))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q (want text or json)", s)
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q (want debug, info, warn or error)", s)
	}
}

func defaultLogFormatForMode(mode string) string {
	if Mode(mode) == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode string) string {
	if Mode(mode) == ModeProd {
		return "info"
	}
	return "debug"
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
