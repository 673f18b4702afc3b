package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/m-mizutani/flock/pkg/cli/config"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/flock/pkg/usecase"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func cmdLedger(w io.Writer) *cli.Command {
	var (
		migrationCfg config.Migration
		ledgerCfg    config.Ledger
		transformID  string
		asJSON       bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transform-id",
			Aliases:     []string{"t"},
			Usage:       "Transform ID to show (default: derived from the migration flags)",
			Destination: &transformID,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print entries as JSON lines",
			Destination: &asJSON,
		},
	}
	flags = append(flags, migrationCfg.Flags()...)
	flags = append(flags, ledgerCfg.Flags()...)

	return &cli.Command{
		Name:    "ledger",
		Aliases: []string{"l"},
		Usage:   "Show the recorded outcomes of a migration",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id := model.TransformID(transformID)
			if id == "" {
				if err := migrationCfg.Load(c); err != nil {
					return err
				}
				spec, err := migrationCfg.TransformSpec()
				if err != nil {
					return goerr.Wrap(err, "either --transform-id or a migration definition is required")
				}
				id = spec.ID()
			}

			ledger, err := ledgerCfg.Open(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to open ledger", goerr.T(types.ErrTagFatalPrecondition))
			}
			defer ledger.Close()

			entries, err := ledger.List(ctx, id)
			if err != nil {
				return goerr.Wrap(err, "failed to list ledger entries", goerr.V("transform_id", id))
			}

			if asJSON {
				enc := json.NewEncoder(w)
				for _, entry := range entries {
					if err := enc.Encode(entry); err != nil {
						return goerr.Wrap(err, "failed to encode ledger entry")
					}
				}
				return nil
			}

			usecase.RenderSummary(w, ledgerReport(id, entries))
			return nil
		},
	}
}

// ledgerReport shapes ledger entries as a run report so the summary renderer
// can print them
func ledgerReport(id model.TransformID, entries []*model.LedgerEntry) *model.RunReport {
	report := &model.RunReport{TransformID: id, Summary: model.Summary{}}
	for _, entry := range entries {
		repo := &model.RepositoryRef{Name: entry.Repository}
		if owner, name, err := model.ParseFullName(entry.Repository); err == nil {
			repo = &model.RepositoryRef{Owner: owner, Name: name}
		}
		report.Results = append(report.Results, &model.RepositoryResult{
			Repository: repo,
			Outcome:    entry.Outcome,
		})
		report.Summary[entry.Outcome.Kind]++
	}
	return report
}
