package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajaxbridge/ajaxbridge/consts"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/spf13/viper"
)

type configOptions struct {
	ConfigFile string
	LogLevel   string
	LogFile    string

	Ajax     ajaxOptions
	Dispatch dispatchOptions
	Cache    cacheOptions
	Metrics  metricsOptions
}

type ajaxOptions struct {
	ConnectionTimeout time.Duration
	DefaultHeaders    map[string]string
}

type dispatchOptions struct {
	Workers           int
	QueueSize         int
	RequestsPerSecond float64
	Burst             int
}

type cacheOptions struct {
	Backend  string
	TTL      time.Duration
	Capacity int
	Folder   string
}

type metricsOptions struct {
	Enabled bool
	Address string
}

var (
	Server = &configOptions{}
	hooks  []func()
)

// LoadFromFile reads the given file and loads the configuration.
func LoadFromFile(confFile string) {
	viper.SetConfigFile(confFile)
	Load()
}

// Load reads the config file (if any), environment and bound flags into Server.
func Load() {
	if viper.ConfigFileUsed() != "" {
		if err := viper.ReadInConfig(); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "FATAL: Error reading config file:", err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&Server); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "FATAL: Error parsing config:", err)
		os.Exit(1)
	}
	if err := validate(Server); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "FATAL:", err)
		os.Exit(1)
	}
	Server.ConfigFile = viper.ConfigFileUsed()

	log.SetLevelString(Server.LogLevel)
	log.SetLogFile(Server.LogFile)
	if Server.ConfigFile != "" {
		log.Debug("Loaded configuration", "file", Server.ConfigFile)
	}

	for _, hook := range hooks {
		hook()
	}
}

func validate(c *configOptions) error {
	if c.Ajax.ConnectionTimeout <= 0 {
		return fmt.Errorf("invalid Ajax.ConnectionTimeout %s: must be positive", c.Ajax.ConnectionTimeout)
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("invalid Dispatch.Workers %d: must be positive", c.Dispatch.Workers)
	}
	if c.Dispatch.QueueSize < 0 {
		return fmt.Errorf("invalid Dispatch.QueueSize %d", c.Dispatch.QueueSize)
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "memory", "disk", "none", "":
	default:
		return fmt.Errorf("invalid Cache.Backend %q: valid values are memory, disk, none", c.Cache.Backend)
	}
	if c.Cache.Folder != "" && !filepath.IsAbs(c.Cache.Folder) {
		c.Cache.Folder = filepath.Clean(c.Cache.Folder)
	}
	return nil
}

// AddHook registers a function to be called after the configuration is loaded.
func AddHook(hook func()) {
	hooks = append(hooks, hook)
}

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("ajax.connectiontimeout", consts.DefaultConnectionTimeout)
	viper.SetDefault("ajax.defaultheaders", map[string]string{})
	viper.SetDefault("dispatch.workers", consts.DefaultDispatchWorkers)
	viper.SetDefault("dispatch.queuesize", consts.DefaultDispatchQueueSize)
	viper.SetDefault("dispatch.requestspersecond", 0)
	viper.SetDefault("dispatch.burst", 1)
	viper.SetDefault("cache.backend", consts.DefaultCacheBackend)
	viper.SetDefault("cache.ttl", consts.DefaultCacheTTL)
	viper.SetDefault("cache.capacity", consts.DefaultCacheCapacity)
	viper.SetDefault("cache.folder", consts.DefaultCacheFolder)
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.address", consts.DefaultMetricsAddress)
}

func init() {
	setViperDefaults()
}

// InitConfig wires the config file, if any, and the environment into viper.
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if _, err := os.Stat(consts.DefaultConfigFileName); err == nil {
		viper.SetConfigFile(consts.DefaultConfigFileName)
	}

	viper.SetEnvPrefix(consts.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
