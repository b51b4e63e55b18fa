package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/spark-client/pkg/classify"
	"github.com/Sternrassler/spark-client/pkg/client"
	"github.com/Sternrassler/spark-client/pkg/logging"
	"github.com/Sternrassler/spark-client/pkg/pagination"
	"github.com/Sternrassler/spark-client/pkg/scheduler"
	"github.com/Sternrassler/spark-client/pkg/transport"
)

// envPrefix namespaces environment overrides: SPARK_TOKEN, SPARK_REDIS_URL, ...
const envPrefix = "SPARK"

// app carries the settings shared by all subcommands.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	return (&app{v: viper.New()}).command()
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:          "spark-client",
		Short:        "Throttled Spark API client",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or .env)")
	flags.String("token", "", "Spark access token")
	flags.String("base-url", client.DefaultBaseURL, "Spark API base URL")
	flags.Duration("delay", scheduler.DefaultDelay, "minimum spacing between dispatches")
	flags.Int("page-size", pagination.DefaultPageSize, "page size used when a max is requested")
	flags.Duration("default-retry-after", classify.DefaultRetryAfter, "delay for 429 responses without retry-after")
	flags.Duration("request-timeout", transport.DefaultTimeout, "timeout for a single network call")
	flags.Int("max-pages", 0, "pages fetched per request (0 = unbounded)")
	flags.Int("max-rate-limit-retries", 0, "consecutive 429s tolerated (0 = unbounded)")
	flags.Float64("max-rps", 0, "hard requests-per-second ceiling (0 = off)")
	flags.String("redis-url", "", "Redis URL for shared rate-limit state and caching")
	flags.Duration("cache-ttl", 0, "response cache lifetime (requires --redis-url)")
	flags.String("log-level", string(logging.LevelInfo), "log level: debug|info|warn|error")
	flags.Bool("pretty", false, "human-readable log output")

	_ = a.v.BindPFlags(flags)

	root.AddCommand(newGetCmd(a), newServeCmd(a), newStatusCmd(a))
	return root
}

// init reads the optional config file and environment, then sets up logging.
func (a *app) init() error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	level := logging.LevelFromEnv(logging.LogLevel(a.v.GetString("log-level")))
	logging.Setup(logging.Config{Level: level, Pretty: a.v.GetBool("pretty")})
	return nil
}

// clientConfig builds the library configuration from flags, environment and
// config file, in that order of precedence.
func (a *app) clientConfig() client.Config {
	cfg := client.DefaultConfig(a.v.GetString("token"))
	cfg.BaseURL = a.v.GetString("base-url")
	cfg.UserAgent = "spark-client/" + version
	cfg.Delay = a.v.GetDuration("delay")
	cfg.PageSize = a.v.GetInt("page-size")
	cfg.DefaultRetryAfter = a.v.GetDuration("default-retry-after")
	cfg.RequestTimeout = a.v.GetDuration("request-timeout")
	cfg.MaxPages = a.v.GetInt("max-pages")
	cfg.MaxRateLimitRetries = a.v.GetInt("max-rate-limit-retries")
	cfg.MaxRPS = a.v.GetFloat64("max-rps")
	cfg.CacheTTL = a.v.GetDuration("cache-ttl")
	return cfg
}

// redisClient opens the configured Redis, or returns nil when none is set.
func (a *app) redisClient() (*redis.Client, error) {
	raw := a.v.GetString("redis-url")
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "redis://" + raw
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// newClient builds a Spark client. The returned close func releases the
// client and its Redis connection.
func (a *app) newClient() (*client.Client, *redis.Client, func(), error) {
	rdb, err := a.redisClient()
	if err != nil {
		return nil, nil, nil, err
	}

	cfg := a.clientConfig()
	cfg.Redis = rdb

	c, err := client.New(cfg)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, nil, err
	}

	closeAll := func() {
		c.Close()
		if rdb != nil {
			rdb.Close()
		}
	}
	return c, rdb, closeAll, nil
}

var errNoRedis = errors.New("no Redis configured (set --redis-url or SPARK_REDIS_URL)")
