package commands

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/mintdoi/am"
	"github.com/teranos/mintdoi/batch"
	"github.com/teranos/mintdoi/datacite"
	"github.com/teranos/mintdoi/db"
	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/logger"
	"github.com/teranos/mintdoi/repository"
	"github.com/teranos/mintdoi/retry"
	"github.com/teranos/mintdoi/transform"
)

// DatabaseFileName is the run state database inside the run directory
const DatabaseFileName = "mintdoi.db"

// loadValidated loads the configuration, prompting for the DataCite token
// when asked to, and validates it for a batch.
func loadValidated(cmd *cobra.Command) (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, err
	}

	if ask, _ := cmd.Flags().GetBool("ask-datacite-token"); ask && cfg.DataCite.Token == "" {
		token, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("DataCite token")
		if err != nil {
			return nil, errors.Wrap(err, "read DataCite token")
		}
		cfg.DataCite.Token = strings.TrimSpace(token)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the run state database under the run directory
func openStore(cfg *am.Config) (*sql.DB, *batch.Store, error) {
	if err := os.MkdirAll(cfg.Run.Directory, am.DefaultDirPermissions); err != nil {
		return nil, nil, errors.Mark(errors.Wrapf(err, "create run directory %s", cfg.Run.Directory), errors.ErrInvalidConfig)
	}
	conn, err := db.OpenWithMigrations(filepath.Join(cfg.Run.Directory, DatabaseFileName), logger.ComponentLogger("db"))
	if err != nil {
		return nil, nil, err
	}
	return conn, batch.NewStore(conn), nil
}

// clients are the remote services and the transformer built from one config
type clients struct {
	repository  *repository.Client
	registrar   *datacite.Client
	transformer *transform.Transformer
}

func retryPolicy(cfg *am.Config) retry.Policy {
	p := retry.DefaultPolicy(cfg.Batch.RetryCount)
	p.InitialInterval = time.Duration(cfg.Batch.InitialBackoffMS) * time.Millisecond
	p.MaxInterval = time.Duration(cfg.Batch.MaxBackoffMS) * time.Millisecond
	return p
}

func newClients(cfg *am.Config) (*clients, error) {
	policy := retryPolicy(cfg)
	repo, err := repository.New(repository.Options{
		Endpoint:    cfg.Repository.Endpoint,
		User:        cfg.Repository.User,
		Password:    cfg.Repository.Password,
		XSRFCookie:  cfg.Repository.XSRFCookie,
		XSRFToken:   cfg.Repository.XSRFToken,
		Timeout:     cfg.RepositoryTimeout(),
		LoginPolicy: &policy,
	})
	if err != nil {
		return nil, err
	}

	registrar, err := datacite.New(datacite.Options{
		API:     cfg.DataCite.API,
		Token:   cfg.DataCite.Token,
		Prefix:  cfg.DataCite.Prefix,
		Timeout: cfg.DataCiteTimeout(),
	})
	if err != nil {
		return nil, err
	}

	transformer, err := transform.New(transform.Options{
		Prefix:          cfg.DataCite.Prefix,
		AffiliationName: cfg.Affiliation.Name,
		AffiliationROR:  cfg.Affiliation.ROR,
		HandleBase:      repository.HandleBase(repo.Endpoint(), cfg.Repository.HandlePrefix),
	})
	if err != nil {
		return nil, err
	}

	return &clients{repository: repo, registrar: registrar, transformer: transformer}, nil
}

func (c *clients) stages(observer batch.Observer) batch.Stages {
	return batch.Stages{
		Repository:  c.repository,
		Registrar:   c.registrar,
		Transformer: c.transformer,
		Observer:    observer,
	}
}

func (c *clients) probes() map[string]batch.Prober {
	return map[string]batch.Prober{
		"repository": c.repository,
		"datacite":   c.registrar,
	}
}

func batchConfig(cfg *am.Config, source string) batch.Config {
	return batch.Config{
		Source:         source,
		Concurrency:    cfg.Batch.Concurrency,
		RPS:            cfg.Batch.RPS,
		RetryCount:     cfg.Batch.RetryCount,
		InitialBackoff: time.Duration(cfg.Batch.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Batch.MaxBackoffMS) * time.Millisecond,
		Timeout:        cfg.RunTimeout(),
	}
}

// dataPaths returns the CSV inputs named on the command line, or the
// configured data location
func dataPaths(args []string, cfg *am.Config) []string {
	if len(args) > 0 {
		return args
	}
	return []string{cfg.CSV.DataLocation}
}
