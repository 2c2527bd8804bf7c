package central

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/pkg/config"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. SetLogLevel changes this logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConfig sets the configuration that fills unset connect and scan options.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// RefreshTiming controls when the stack's attribute cache is invalidated.
type RefreshTiming string

const (
	RefreshNone        RefreshTiming = "none"
	RefreshOnConnected RefreshTiming = "on_connected"
)

// ConnectionPriority is the connection interval preset requested after connect.
type ConnectionPriority string

const (
	PriorityBalanced ConnectionPriority = "balanced"
	PriorityHigh     ConnectionPriority = "high"
	PriorityLowPower ConnectionPriority = "low_power"
)

func (p ConnectionPriority) native() native.Priority {
	switch p {
	case PriorityHigh:
		return native.PriorityHigh
	case PriorityLowPower:
		return native.PriorityLowPower
	default:
		return native.PriorityBalanced
	}
}

// ConnectOptions tune a connection attempt. Zero values are filled from tags
// and from the engine configuration.
type ConnectOptions struct {
	AutoConnect        bool
	RequestMTU         int
	RefreshGattTiming  RefreshTiming      `default:"none"`
	Timeout            time.Duration      // config DeviceTimeout when zero, none for AutoConnect
	ConnectionPriority ConnectionPriority `default:"balanced"`
}

func (e *Engine) connectOptions(in *ConnectOptions) ConnectOptions {
	var o ConnectOptions
	if in != nil {
		o = *in
	}
	defaults.SetDefaults(&o)
	switch {
	case o.Timeout > 0:
	case o.AutoConnect:
		// auto-connect keeps waiting for the device until cancelled
		o.Timeout = 0
	default:
		o.Timeout = e.cfg.DeviceTimeout
	}
	if o.RequestMTU <= 0 {
		o.RequestMTU = e.cfg.DefaultMTU
	}
	return o
}

// ScanMode trades latency against power.
type ScanMode string

const (
	ScanOpportunistic ScanMode = "opportunistic"
	ScanLowPower      ScanMode = "low_power"
	ScanBalanced      ScanMode = "balanced"
	ScanLowLatency    ScanMode = "low_latency"
)

func (m ScanMode) level() int {
	switch m {
	case ScanOpportunistic:
		return -1
	case ScanLowPower:
		return 0
	case ScanLowLatency:
		return 2
	default:
		return 1
	}
}

// CallbackType selects which sightings the stack reports.
type CallbackType string

const (
	CallbackAllMatches CallbackType = "all_matches"
	CallbackFirstMatch CallbackType = "first_match"
	CallbackMatchLost  CallbackType = "match_lost"
)

// ScanOptions filter and tune a scan.
type ScanOptions struct {
	ServiceUUIDs    []string
	ScanMode        ScanMode     `default:"balanced"`
	CallbackType    CallbackType `default:"all_matches"`
	LegacyScan      bool
	AllowDuplicates bool
}

func (e *Engine) scanOptions(in *ScanOptions) ScanOptions {
	var o ScanOptions
	if in != nil {
		o = *in
	}
	defaults.SetDefaults(&o)
	if in == nil {
		o.AllowDuplicates = e.cfg.AllowDuplicates
	}
	return o
}

// MonitorHint picks notifications or indications for a monitor.
type MonitorHint string

const (
	MonitorAuto         MonitorHint = "auto"
	MonitorNotification MonitorHint = "notification"
	MonitorIndication   MonitorHint = "indication"
)
