package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ajaxbridge/ajaxbridge/conf"
	"github.com/ajaxbridge/ajaxbridge/consts"
	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/core/dispatch"
	"github.com/ajaxbridge/ajaxbridge/core/metrics"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   consts.AppName,
		Short: "Asynchronous HTTP requests for scripts, WebAssembly guests and MCP clients",
		Long: `Ajaxbridge issues HTTP requests in the background and reports their
classified outcome (success, network error, timeout, parse error or abort)
to callbacks registered by the caller.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			preRun()
		},
		SilenceUsage: true,
	}
)

// Execute runs the root command. Interrupt and terminate signals cancel the
// command context.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		log.Fatal(err)
	}
}

func preRun() {
	conf.Load()
}

// bridge holds what every subcommand needs to issue requests.
type bridge struct {
	client     *ajax.Client
	dispatcher *dispatch.Dispatcher
	metricsSrv *http.Server
}

func newBridge(ctx context.Context) (*bridge, error) {
	b := &bridge{}
	m := metrics.NewNoopInstance()
	if conf.Server.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		pm, err := metrics.NewPrometheusInstance(reg)
		if err != nil {
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		m = pm
		b.metricsSrv = startMetricsServer(ctx, reg)
	}

	d, err := dispatch.NewFromConfig(&http.Client{}, m)
	if err != nil {
		b.shutdownMetrics()
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	b.dispatcher = d

	b.client, err = ajax.NewClient(d, ajax.WithObserver(m))
	if err != nil {
		_ = d.Close()
		b.shutdownMetrics()
		return nil, err
	}
	return b, nil
}

// Close waits for in-flight requests and stops the metrics endpoint.
func (b *bridge) Close() {
	if err := b.dispatcher.Close(); err != nil {
		log.Error("Error closing dispatcher", err)
	}
	b.shutdownMetrics()
}

func (b *bridge) shutdownMetrics() {
	if b.metricsSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.metricsSrv.Shutdown(ctx); err != nil {
		log.Error("Error stopping metrics server", err)
	}
}

func startMetricsServer(ctx context.Context, reg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              conf.Server.Metrics.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info(ctx, "Starting metrics endpoint", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "Metrics endpoint failed", err)
		}
	}()
	return srv
}

func init() {
	cobra.OnInitialize(func() {
		conf.InitConfig(cfgFile)
	})

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "configfile", "c", "", `config file (default "./`+consts.DefaultConfigFileName+`")`)
	rootCmd.PersistentFlags().String("loglevel", viper.GetString("loglevel"), "log level, possible values: fatal, error, warn, info, debug, trace")
	rootCmd.PersistentFlags().String("logfile", viper.GetString("logfile"), "also write logs to this file, rotated by size")
	rootCmd.PersistentFlags().Bool("metrics", viper.GetBool("metrics.enabled"), "expose Prometheus metrics")
	rootCmd.PersistentFlags().String("metricsaddress", viper.GetString("metrics.address"), "address of the metrics endpoint")

	_ = viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel"))
	_ = viper.BindPFlag("logfile", rootCmd.PersistentFlags().Lookup("logfile"))
	_ = viper.BindPFlag("metrics.enabled", rootCmd.PersistentFlags().Lookup("metrics"))
	_ = viper.BindPFlag("metrics.address", rootCmd.PersistentFlags().Lookup("metricsaddress"))
}
