package config

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/flock/pkg/infra/report"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Report holds settings of the run report sinks. Every sink is optional.
type Report struct {
	Bucket          string
	Prefix          string
	SlackWebhookURL string
	SentryDSN       string
	SentryEnv       string
}

// Flags returns CLI flags for report sinks
func (c *Report) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "report-bucket",
			Usage:       "GCS bucket receiving JSON run reports",
			Destination: &c.Bucket,
			Sources:     cli.EnvVars("FLOCK_REPORT_BUCKET"),
		},
		&cli.StringFlag{
			Name:        "report-prefix",
			Usage:       "Object prefix of run reports",
			Value:       "flock",
			Destination: &c.Prefix,
			Sources:     cli.EnvVars("FLOCK_REPORT_PREFIX"),
		},
		&cli.StringFlag{
			Name:        "slack-webhook-url",
			Usage:       "Slack incoming webhook notified after each run",
			Destination: &c.SlackWebhookURL,
			Sources:     cli.EnvVars("FLOCK_SLACK_WEBHOOK_URL"),
		},
		&cli.StringFlag{
			Name:        "sentry-dsn",
			Usage:       "Sentry DSN receiving one event per failed repository",
			Destination: &c.SentryDSN,
			Sources:     cli.EnvVars("FLOCK_SENTRY_DSN"),
		},
		&cli.StringFlag{
			Name:        "sentry-env",
			Usage:       "Sentry environment",
			Destination: &c.SentryEnv,
			Sources:     cli.EnvVars("FLOCK_SENTRY_ENV"),
		},
	}
}

// Sinks creates the configured sinks. The returned cleanup closes them.
func (c *Report) Sinks(ctx context.Context) ([]interfaces.ReportSink, func(), error) {
	var sinks []interfaces.ReportSink
	var closers []func() error
	cleanup := func() {
		for _, closeFn := range closers {
			_ = closeFn()
		}
	}

	if c.Bucket != "" {
		gcs, err := report.NewGCS(ctx, c.Bucket, c.Prefix)
		if err != nil {
			return nil, cleanup, goerr.Wrap(err, "failed to set up report bucket", goerr.T(types.ErrTagFatalPrecondition))
		}
		sinks = append(sinks, gcs)
		closers = append(closers, gcs.Close)
	}

	if c.SlackWebhookURL != "" {
		sinks = append(sinks, report.NewSlack(c.SlackWebhookURL))
	}

	if c.SentryDSN != "" {
		s, err := report.NewSentry(sentry.ClientOptions{
			Dsn:         c.SentryDSN,
			Environment: c.SentryEnv,
			Release:     "flock@" + types.Version,
		})
		if err != nil {
			cleanup()
			return nil, func() {}, goerr.Wrap(err, "failed to set up sentry", goerr.T(types.ErrTagFatalPrecondition))
		}
		sinks = append(sinks, s)
	}

	return sinks, cleanup, nil
}
