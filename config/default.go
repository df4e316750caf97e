package config

import (
	"regexp"
	"time"

	"golang.org/x/time/rate"
)

// NewDefaultConfig returns a Config with conservative, safe-by-default
// values. Callers layer a TOML file and environment-specific overrides on
// top via Load.
func NewDefaultConfig() *Config {
	return &Config{
		DBFile:    "acmebigip.db",
		PublicDir: "static/dist",
		Server: Server{
			Addr:                    ":8080",
			ShutdownGracefulTimeout: DefaultShutdownTimeout,
			ReadTimeout:             DefaultReadTimeout,
			ReadHeaderTimeout:       DefaultReadHeaderTimeout,
			WriteTimeout:            DefaultWriteTimeout,
			IdleTimeout:             DefaultIdleTimeout,
			ClientIpProxyHeader:     "",
			EnableTLS:               false,
		},
		Scheduler: Scheduler{
			Interval:              1 * time.Hour,
			ExpiringWithinDays:    30,
			MaxRenewalsPerTick:    20,
			ConcurrencyMultiplier: 2,
			BigipPartition:        "/Common",
		},
		Cache: Cache{
			Level: "medium",
		},
		BlockIp: BlockIp{
			Enabled:         true,
			Level:           "medium",
			ActivationRPS:   500,
			MaxSharePercent: 35,
		},
		BlockUaList: BlockUaList{
			Activated: false,
			List: Regexp{
				Regexp: regexp.MustCompile(`(?i)(masscan|zgrab|nikto|sqlmap)`),
			},
		},
		BlockHost: BlockHost{
			Activated:    false,
			AllowedHosts: nil,
		},
		BlockRequestBody: BlockRequestBody{
			Activated:     true,
			ExcludedPaths: []string{"/bigip/publish_http01_challenges"},
			Limit:         1 << 20,
		},
		Maintenance: Maintenance{
			Activated: false,
		},
		Metrics: Metrics{
			Enabled:    false,
			AllowedIPs: []string{"127.0.0.1"},
			Activated:  false,
		},
		Log: Log{
			Request: LogRequest{
				Activated: true,
				Limits: LogRequestLimits{
					URILength:       256,
					UserAgentLength: 128,
					RefererLength:   256,
					RemoteIPLength:  45,
				},
			},
			Batch: BatchLogger{
				ChanSize:      1000,
				FlushSize:     100,
				FlushInterval: 5 * time.Second,
				DbPath:        "logs.db",
			},
		},
		Notifier: Notifier{
			Discord: Discord{
				Activated:    false,
				WebhookURL:   "",
				APIRateLimit: rate.Every(2 * time.Second),
				APIBurst:     5,
				SendTimeout:  10 * time.Second,
			},
		},
	}
}
