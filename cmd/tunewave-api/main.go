package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tunewave/tunewave-backend/internal/auth"
	"github.com/tunewave/tunewave-backend/internal/config"
	"github.com/tunewave/tunewave-backend/internal/db"
	"github.com/tunewave/tunewave-backend/internal/logging"
	"github.com/tunewave/tunewave-backend/internal/spotify"
	"github.com/tunewave/tunewave-backend/internal/sync"
	"github.com/tunewave/tunewave-backend/internal/web"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "tunewave-api",
		Short: "TuneWave listening activity backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-url", defaults.GetString("database.url"), "Postgres connection URL")
	cmd.PersistentFlags().String("spotify-client-id", defaults.GetString("spotify.client_id"), "Spotify OAuth client ID")
	cmd.PersistentFlags().String("spotify-client-secret", "", "Spotify OAuth client secret (overrides env)")
	cmd.PersistentFlags().String("spotify-redirect-url", defaults.GetString("spotify.redirect_url"), "Spotify OAuth redirect URL")
	cmd.PersistentFlags().Int("sync-fetch-limit", defaults.GetInt("sync.fetch_limit"), "Default page size for activity fetches")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "spotify.client_id", "spotify-client-id")
	bindFlag(cmd, "spotify.client_secret", "spotify-client-secret")
	bindFlag(cmd, "spotify.redirect_url", "spotify-redirect-url")
	bindFlag(cmd, "sync.fetch_limit", "sync-fetch-limit")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	database, err := db.New(ctx, appConfig.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	client := spotify.NewClient()
	refresher := auth.NewRefresher(appConfig.SpotifyClientID, appConfig.SpotifyClientSecret)
	exchanger := auth.NewExchanger(appConfig.SpotifyClientID, appConfig.SpotifyClientSecret, appConfig.SpotifyRedirectURL)

	syncService := sync.New(sync.Deps{
		Client:    client,
		Refresher: refresher,
		Users:     database.Users(),
		Tracks:    database.Tracks(),
		Artists:   database.Artists(),
		Playback:  database.Playback(),
		TopLists:  database.TopLists(),
		Feed:      database.Feed(),
		Stats:     database.Stats(),
		Logger:    logger,
	})

	handlers := web.NewHandlers(web.HandlerDeps{
		Sync:      syncService,
		Exchanger: exchanger,
		Profiles:  client,
		Users:     database.Users(),
		Feed:      database.Feed(),
		Stats:     database.Stats(),
		TopLists:  database.TopLists(),
		SyncLimit: appConfig.SyncFetchLimit,
		Logger:    logger,
	})

	server := web.NewServer(web.ServerConfig{
		Addr:     appConfig.HTTPAddress,
		Handlers: handlers,
		Logger:   logger,
	})

	return server.Run()
}
