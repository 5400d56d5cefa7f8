// Package main provides the entry point for the lofiproxy CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lofiland/lofiproxy/internal/cache"
	"github.com/lofiland/lofiproxy/internal/offline"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile       string
	listen           string
	upstream         string
	generation       string
	storeDriver      string
	storeDir         string
	compression      int
	audioEntries     int
	maxResponseBytes int64
	watchConfig      bool

	rootCmd = &cobra.Command{
		Use:   "lofiproxy",
		Short: "Offline cache for the lofiland player",
		Long: paragraph(
			fmt.Sprintf("\nServe the lofiland player %s: the app shell and manifests refresh in the background, audio loops are served from cache first.", keyword("offline")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: serve,
	}

	serveCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Run the caching proxy (default command)",
		Example: paragraph("lofiproxy serve --upstream http://localhost:5173 --listen :8080"),
		Args:    cobra.NoArgs,
		RunE:    serve,
	}
)

func validateOptions(cmd *cobra.Command) error {
	// an explicit --config replaces whatever was found in the default places
	if cmd.Flags().Changed("config") {
		configFile = expandPath(configFile)
		// `config` creates missing files later on
		if _, err := os.Stat(configFile); err == nil {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("unable to read config file: %w", err)
			}
			log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		}
	}

	// grab config values from Viper
	listen = viper.GetString("listen")
	upstream = viper.GetString("upstream")
	generation = viper.GetString("generation")
	storeDriver = viper.GetString("store.driver")
	storeDir = viper.GetString("store.dir")
	compression = viper.GetInt("store.compression")
	audioEntries = viper.GetInt("limits.audio_entries")
	maxResponseBytes = viper.GetInt64("limits.max_response_bytes")
	watchConfig = viper.GetBool("watch")

	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	if err := cache.ValidGeneration(generation); err != nil {
		return err
	}

	switch cache.Driver(storeDriver) {
	case cache.DriverMemory, cache.DriverDisk, cache.DriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q: use %s, %s or %s", storeDriver,
			cache.DriverDisk, cache.DriverSQLite, cache.DriverMemory)
	}

	if compression < 0 || compression > 22 {
		return fmt.Errorf("store compression must be between 0 and 22, got %d", compression)
	}
	if audioEntries < 1 {
		return fmt.Errorf("limits audio_entries must be positive, got %d", audioEntries)
	}
	if maxResponseBytes < 1 {
		return fmt.Errorf("limits max_response_bytes must be positive, got %d", maxResponseBytes)
	}

	if storeDir == "" {
		dir, err := gap.NewScope(gap.User, "lofiproxy").CacheDir()
		if err != nil {
			return fmt.Errorf("unable to find cache directory: %w", err)
		}
		storeDir = dir
	}
	storeDir = expandPath(storeDir)

	return nil
}

func engineConfig() offline.Config {
	return offline.Config{
		Generation:       generation,
		MaxAudioEntries:  audioEntries,
		MaxResponseBytes: maxResponseBytes,
	}
}

func openStorage() (cache.Storage, error) {
	storage, err := cache.NewStorage(&cache.StorageConfig{
		Driver:           cache.Driver(storeDriver),
		Dir:              storeDir,
		CompressionLevel: compression,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open cache storage: %w", err)
	}
	log.Debug("Opened cache storage", "driver", storeDriver, "dir", storeDir)
	return storage, nil
}

// newWorker builds the fetcher, the pass-through proxy and the worker.
func newWorker(storage cache.Storage) (*offline.Worker, error) {
	fetcher, err := offline.NewHTTPFetcher(upstream, nil)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(fetcher.Upstream())
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Debug("Upstream request failed", "method", r.Method, "url", r.URL.String(), "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}

	return offline.NewWorker(engineConfig(), storage, fetcher, proxy), nil
}

// startWorker installs and activates the configured generation. An
// incomplete purge is not fatal.
func startWorker(ctx context.Context, worker *offline.Worker) error {
	if err := worker.Start(ctx); err != nil {
		if errors.Is(err, offline.ErrActivation) {
			log.Warn("Continuing with stale generations present", "error", err)
			return nil
		}
		return err
	}
	return nil
}

func serve(cmd *cobra.Command, _ []string) error {
	storage, err := openStorage()
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			log.Error("Unable to close cache storage", "error", err)
		}
	}()

	worker, err := newWorker(storage)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := startWorker(ctx, worker); err != nil {
		return err
	}

	if watchConfig {
		if used := viper.ConfigFileUsed(); used != "" {
			go watchGeneration(ctx, used, worker)
		} else {
			log.Warn("Not watching configuration: no configuration file in use")
		}
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           worker.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("Serving", "listen", listen, "upstream", upstream, "generation", worker.Generation())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("unable to serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Unclean shutdown", "error", err)
		}
	}

	// Let background refreshes and refills finish before the storage closes
	worker.Wait()
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	flags.StringVarP(&listen, "listen", "l", ":8080", "address to listen on")
	flags.StringVarP(&upstream, "upstream", "u", "http://localhost:5173", "origin serving the player")
	flags.StringVarP(&generation, "generation", "g", offline.DefaultGeneration, "current cache generation")
	flags.StringVar(&storeDriver, "store", string(cache.DriverDisk), "cache store driver (disk, sqlite, memory)")
	flags.StringVar(&storeDir, "store-dir", "", "cache store directory")
	flags.BoolVarP(&watchConfig, "watch", "w", false, "redeploy when the generation in the config file changes")
	flags.Bool("debug", false, "enable debug logging")

	// Config bindings
	_ = viper.BindPFlag("listen", flags.Lookup("listen"))
	_ = viper.BindPFlag("upstream", flags.Lookup("upstream"))
	_ = viper.BindPFlag("generation", flags.Lookup("generation"))
	_ = viper.BindPFlag("store.driver", flags.Lookup("store"))
	_ = viper.BindPFlag("store.dir", flags.Lookup("store-dir"))
	_ = viper.BindPFlag("watch", flags.Lookup("watch"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))

	viper.SetDefault("listen", ":8080")
	viper.SetDefault("upstream", "http://localhost:5173")
	viper.SetDefault("generation", offline.DefaultGeneration)
	viper.SetDefault("store.driver", string(cache.DriverDisk))
	viper.SetDefault("store.dir", "")
	viper.SetDefault("store.compression", 3)
	viper.SetDefault("limits.audio_entries", offline.DefaultMaxAudioEntries)
	viper.SetDefault("limits.max_response_bytes", offline.DefaultMaxResponseBytes)
	viper.SetDefault("watch", false)

	rootCmd.AddCommand(serveCmd, configCmd, generationsCmd, purgeCmd, manifestCmd, prefetchCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "lofiproxy")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "lofiproxy")}, dirs...)
	}

	if c := os.Getenv("LOFIPROXY_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("lofiproxy")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("lofiproxy")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	configFile = filepath.Join(dirs[0], "lofiproxy.yml")
}
