package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prasenjit/go-apibot/internal/config"
	"github.com/prasenjit/go-apibot/internal/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "go-apibot",
		Short: "go-apibot - administration console for API bots",
		Long: `go-apibot manages API bot configurations: rules that call an external HTTP API
when a trigger phrase appears in an inbound conversation and relay the response
as a bot reply. It serves an admin console and JSON API, and offers the same
operations from the command line.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the backend (overrides backend.token)")
	viper.BindPFlag("backend.token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(botsCmd)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// GOAPIBOT_BACKEND_TOKEN -> backend.token
	viper.SetEnvPrefix("GOAPIBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults mirrors config.Default into viper
func setDefaults() {
	d := config.Default()

	viper.SetDefault("server.port", d.Server.Port)
	viper.SetDefault("server.host", d.Server.Host)
	viper.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	viper.SetDefault("server.tls.certFile", d.Server.TLS.CertFile)
	viper.SetDefault("server.tls.keyFile", d.Server.TLS.KeyFile)
	viper.SetDefault("server.tls.autoGenerate", d.Server.TLS.AutoGenerate)
	viper.SetDefault("server.tls.storePath", d.Server.TLS.StorePath)

	viper.SetDefault("backend.baseURL", d.Backend.BaseURL)
	viper.SetDefault("backend.basePath", d.Backend.BasePath)
	viper.SetDefault("backend.token", d.Backend.Token)
	viper.SetDefault("backend.timeout", d.Backend.Timeout)

	viper.SetDefault("storage.type", d.Storage.Type)
	viper.SetDefault("storage.path", d.Storage.Path)

	viper.SetDefault("store.errorDismiss", d.Store.ErrorDismiss)
	viper.SetDefault("store.discardStale", d.Store.DiscardStale)

	viper.SetDefault("events.maxEvents", d.Events.MaxEvents)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
}

// loadConfig assembles the effective configuration from viper
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: viper.GetInt("server.port"),
			Host: viper.GetString("server.host"),
			TLS: config.TLSConfig{
				Enabled:      viper.GetBool("server.tls.enabled"),
				CertFile:     viper.GetString("server.tls.certFile"),
				KeyFile:      viper.GetString("server.tls.keyFile"),
				AutoGenerate: viper.GetBool("server.tls.autoGenerate"),
				StorePath:    viper.GetString("server.tls.storePath"),
			},
		},
		Backend: config.BackendConfig{
			BaseURL:  viper.GetString("backend.baseURL"),
			BasePath: viper.GetString("backend.basePath"),
			Token:    viper.GetString("backend.token"),
			Timeout:  viper.GetDuration("backend.timeout"),
		},
		Storage: config.StorageConfig{
			Type: viper.GetString("storage.type"),
			Path: viper.GetString("storage.path"),
		},
		Store: config.StoreConfig{
			ErrorDismiss: viper.GetDuration("store.errorDismiss"),
			DiscardStale: viper.GetBool("store.discardStale"),
		},
		Events: config.EventsConfig{
			MaxEvents: viper.GetInt("events.maxEvents"),
		},
		Logging: config.LoggingConfig{
			Level:  viper.GetString("logging.level"),
			Format: viper.GetString("logging.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
