package config

import (
	"context"

	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/infra/ledger"
	"github.com/urfave/cli/v3"
)

// Ledger holds ledger configuration
type Ledger struct {
	DSN string
}

// Flags returns CLI flags for ledger configuration
func (c *Ledger) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "ledger",
			Usage:       "Ledger location: memory, path to a SQLite file, sqlite://<path> or firestore://<project>/<database>",
			Value:       "flock.db",
			Destination: &c.DSN,
			Sources:     cli.EnvVars("FLOCK_LEDGER"),
		},
	}
}

// Open opens the configured ledger
func (c *Ledger) Open(ctx context.Context) (interfaces.Ledger, error) {
	return ledger.Open(ctx, c.DSN)
}
