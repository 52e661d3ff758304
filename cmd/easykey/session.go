package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/99designs/keyring"

	"github.com/benaskins/easykey/internal/audit"
	"github.com/benaskins/easykey/internal/config"
	"github.com/benaskins/easykey/internal/keystore"
	"github.com/benaskins/easykey/internal/vault"
)

// session is an opened vault with the config it was built from.
type session struct {
	vault      *vault.Vault
	cfg        *config.Config
	configPath string
	closers    []func() error
}

func (s *session) Close() {
	for _, fn := range s.closers {
		if err := fn(); err != nil {
			slog.Warn("closing session resource", "error", err)
		}
	}
}

// opener builds a session for the given actor ("cli" or "api").
type opener func(c *cli, actor string) (*session, error)

func openSession(c *cli, actor string) (*session, error) {
	path := c.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var password keyring.PromptFunc = keyring.TerminalPrompt
	if p := os.Getenv("EASYKEY_KEYRING_PASSWORD"); p != "" {
		password = keyring.FixedStringPrompt(p)
	}
	ks, err := keystore.Open(cfg.Backend, keystore.KeyringOptions{
		Backends:     cfg.KeyringBackends,
		FileDir:      cfg.KeyringDir,
		FilePassword: password,
	})
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, configPath: path}
	opts := []vault.Option{
		vault.WithNamespaces(cfg.SecretsService, cfg.MetadataService),
		vault.WithActor(actor),
		vault.WithDefaultReason(cfg.DefaultReason),
	}

	if cfg.AuditLog != "" {
		if l, err := audit.NewLogger(cfg.AuditLog); err != nil {
			slog.Warn("audit log disabled", "error", err)
		} else {
			opts = append(opts, vault.WithAuditLog(l))
			s.closers = append(s.closers, l.Close)
		}
	}

	s.vault = vault.New(ks, opts...)
	return s, nil
}
