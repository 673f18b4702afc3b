package report

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

const sentryFlushTimeout = 5 * time.Second

// Sentry sends one event per failed repository
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry creates a Sentry sink with its own client, leaving the global hub alone
func NewSentry(opts sentry.ClientOptions) (*Sentry, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create sentry client")
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *Sentry) Publish(ctx context.Context, report *model.RunReport) error {
	var sent int
	for _, r := range report.Results {
		if !r.Outcome.IsFailed() {
			continue
		}

		s.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelError)
			scope.SetTag("repository", r.Repository.FullName())
			scope.SetTag("stage", string(r.Outcome.Stage))
			scope.SetTag("error_kind", string(r.Outcome.ErrorKind))
			scope.SetTag("transform_id", string(report.TransformID))
			scope.SetTag("run_id", report.RunID)
			scope.SetFingerprint([]string{string(report.TransformID), string(r.Outcome.Stage), string(r.Outcome.ErrorKind)})
			s.hub.CaptureMessage(r.Outcome.Message)
		})
		sent++
	}

	if sent > 0 && !s.hub.Flush(sentryFlushTimeout) {
		return goerr.New("timed out flushing sentry events", goerr.V("events", sent))
	}
	return nil
}
