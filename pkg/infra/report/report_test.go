package report_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/flock/pkg/infra/report"
	"github.com/m-mizutani/gt"
	"github.com/slack-go/slack"
)

func sampleReport() *model.RunReport {
	failed := &model.Outcome{
		Kind:      model.OutcomeFailed,
		Stage:     model.StageCommit,
		ErrorKind: types.KindPermissionDenied,
		Message:   "permission denied",
	}
	return &model.RunReport{
		RunID:       "run-1",
		TransformID: "abc123def456",
		Results: []*model.RepositoryResult{
			{Repository: &model.RepositoryRef{Owner: "acme", Name: "api"}, Outcome: model.Proposed("flock/abc123def456", "https://github.com/acme/api/pull/1")},
			{Repository: &model.RepositoryRef{Owner: "acme", Name: "web"}, Outcome: failed},
			{Repository: &model.RepositoryRef{Owner: "acme", Name: "cli"}, Outcome: model.Skipped()},
		},
		Summary: model.Summary{model.OutcomeProposed: 1, model.OutcomeFailed: 1, model.OutcomeSkipped: 1},
	}
}

func TestSlack_Publish(t *testing.T) {
	var received slack.WebhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.Method, http.MethodPost)
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gt.NoError(t, report.NewSlack(srv.URL).Publish(context.Background(), sampleReport()))

	gt.Equal(t, received.Text, "flock run abc123def456")
	gt.Equal(t, len(received.Attachments), 1)

	a := received.Attachments[0]
	gt.Equal(t, a.Color, "danger")
	gt.Equal(t, a.Text, "proposed: 1, skipped: 1, failed: 1")
	gt.Equal(t, len(a.Fields), 2)
	gt.Equal(t, a.Fields[0].Value, "• <https://github.com/acme/api/pull/1|acme/api>")
	gt.Equal(t, a.Fields[1].Value, "• acme/web: commit/permission_denied")
}

func TestSlack_TruncatesLongLists(t *testing.T) {
	var received slack.WebhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	rep := &model.RunReport{RunID: "run-2", TransformID: "x", Summary: model.Summary{}}
	for i := range 13 {
		rep.Results = append(rep.Results, &model.RepositoryResult{
			Repository: &model.RepositoryRef{Owner: "acme", Name: fmt.Sprintf("r%d", i)},
			Outcome:    &model.Outcome{Kind: model.OutcomeFailed, Stage: model.StagePush, ErrorKind: types.KindTransientNetwork},
		})
		rep.Summary[model.OutcomeFailed]++
	}

	gt.NoError(t, report.NewSlack(srv.URL).Publish(context.Background(), rep))
	gt.String(t, received.Attachments[0].Fields[0].Value).Contains("…and 3 more")
}

func TestSlack_PublishError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gt.Error(t, report.NewSlack(srv.URL).Publish(context.Background(), sampleReport()))
}

func TestSentry_CapturesFailures(t *testing.T) {
	var mu sync.Mutex
	var events []*sentry.Event

	sink, err := report.NewSentry(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			return nil
		},
	})
	gt.NoError(t, err)
	gt.NoError(t, sink.Publish(context.Background(), sampleReport()))

	mu.Lock()
	defer mu.Unlock()
	gt.Equal(t, len(events), 1)
	gt.Equal(t, events[0].Message, "permission denied")
	gt.Equal(t, events[0].Tags["repository"], "acme/web")
	gt.Equal(t, events[0].Tags["stage"], "commit")
	gt.Equal(t, events[0].Tags["error_kind"], "permission_denied")
}

func TestGCS_Publish(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET is not set")
	}

	ctx := context.Background()
	sink, err := report.NewGCS(ctx, bucket, "flock-test")
	gt.NoError(t, err)
	defer sink.Close()

	rep := sampleReport()
	gt.Equal(t, sink.ObjectName(rep), "flock-test/abc123def456/run-1.json")
	gt.NoError(t, sink.Publish(ctx, rep))
}
