package commands

import (
	"inkwell/internal/config"
	"inkwell/internal/draft"
	"inkwell/internal/session"
	"inkwell/internal/store"
	"inkwell/internal/transport"
)

// app bundles the wired client core for the CLI commands.
type app struct {
	cfg      *config.Config
	client   *transport.Client
	store    *store.Store
	notifier *store.Notifier
	sessions *session.Manager
}

// newApp loads config and wires the library the way any UI consumer would.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	client := transport.New(cfg.BaseURL, cfg.AuthToken, cfg.RequestTimeout)
	st := store.New(client, cfg.ConversationExpiry)
	notifier := store.NewNotifier()
	guard := draft.NewGuard()

	return &app{
		cfg:      cfg,
		client:   client,
		store:    st,
		notifier: notifier,
		sessions: session.NewManager(client, st, notifier, cfg, guard),
	}, nil
}
