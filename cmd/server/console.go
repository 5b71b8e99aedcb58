package main

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/prasenjit/go-apibot/internal/client"
	"github.com/prasenjit/go-apibot/internal/config"
	"github.com/prasenjit/go-apibot/internal/events"
	"github.com/prasenjit/go-apibot/internal/session"
	"github.com/prasenjit/go-apibot/internal/stats"
	"github.com/prasenjit/go-apibot/internal/storage"
	"github.com/prasenjit/go-apibot/internal/store"
)

// console wires the components shared by the server and the bots commands
type console struct {
	cfg     *config.Config
	session *session.Session
	client  *client.Client
	store   *store.Store
	drafts  storage.Storage
	events  *events.Service
	stats   *stats.Collector
}

func newConsole(cfg *config.Config) (*console, error) {
	storagePath := absPath(cfg.Storage.Path)
	if cfg.Storage.Type == storage.TypeSQLite && filepath.Ext(storagePath) == "" {
		storagePath = filepath.Join(storagePath, "drafts.db")
	}

	drafts, err := storage.Open(cfg.Storage.Type, storagePath)
	if err != nil {
		return nil, err
	}

	sess := session.New(cfg.Backend.Token)
	backend := client.New(client.Options{
		BaseURL:  cfg.Backend.BaseURL,
		BasePath: cfg.Backend.BasePath,
		Timeout:  cfg.Backend.Timeout,
	}, sess)

	eventsService := events.NewService(cfg.Events.MaxEvents)
	collector := stats.NewCollector()

	st := store.New(backend, sess, store.Options{
		ErrorDismiss: cfg.Store.ErrorDismiss,
		DiscardStale: cfg.Store.DiscardStale,
		Stats:        collector,
		Events:       eventsService,
	})

	log.Debug().
		Str("backend", backend.BaseURL()).
		Str("storage", cfg.Storage.Type).
		Bool("token", sess.Token() != "").
		Msg("console initialized")

	return &console{
		cfg:     cfg,
		session: sess,
		client:  backend,
		store:   st,
		drafts:  drafts,
		events:  eventsService,
		stats:   collector,
	}, nil
}

func (c *console) Close() {
	c.store.Close()
	if err := c.drafts.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close draft storage")
	}
}

// absPath resolves p against the working directory
func absPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	cwd, err := os.Getwd()
	if err != nil {
		return p
	}
	return filepath.Join(cwd, p)
}
