package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	controller "github.com/m-mizutani/flock/pkg/controller/http"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/infra/ledger"
	"github.com/m-mizutani/gt"
)

const testTransformID model.TransformID = "0123456789ab"

func newServer(t *testing.T) (*controller.Server, *ledger.Memory) {
	t.Helper()
	l := ledger.NewMemory()
	server, err := controller.NewServer(context.Background(), l)
	gt.NoError(t, err)
	return server, l
}

func get(server *controller.Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func seed(t *testing.T, l *ledger.Memory) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	gt.NoError(t, l.Record(ctx, &model.RepositoryRef{Owner: "acme", Name: "api"}, testTransformID,
		&model.Outcome{Kind: model.OutcomeProposed, BranchName: "flock/x", PullRequestURL: "https://github.com/acme/api/pull/1", RecordedAt: now}))
	gt.NoError(t, l.Record(ctx, &model.RepositoryRef{Owner: "acme", Name: "web"}, testTransformID,
		&model.Outcome{Kind: model.OutcomeFailed, Stage: model.StagePush, Message: "denied", RecordedAt: now}))
	gt.NoError(t, l.Record(ctx, &model.RepositoryRef{Owner: "acme", Name: "docs"}, "ffffffffffff",
		&model.Outcome{Kind: model.OutcomeSkipped, RecordedAt: now}))
}

func TestOutcomes_List(t *testing.T) {
	server, l := newServer(t)
	seed(t, l)

	w := get(server, "/api/v1/transforms/"+string(testTransformID)+"/outcomes")
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, w.Header().Get("Content-Type"), "application/json")

	var resp struct {
		TransformID string              `json:"transform_id"`
		Outcomes    []model.LedgerEntry `json:"outcomes"`
	}
	gt.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	gt.Equal(t, resp.TransformID, string(testTransformID))
	gt.A(t, resp.Outcomes).Length(2)

	byRepo := map[string]*model.Outcome{}
	for _, e := range resp.Outcomes {
		byRepo[e.Repository] = e.Outcome
	}
	gt.Equal(t, byRepo["acme/api"].PullRequestURL, "https://github.com/acme/api/pull/1")
	gt.Equal(t, byRepo["acme/web"].Stage, model.StagePush)
}

func TestOutcomes_ListUnknownTransformIsEmpty(t *testing.T) {
	server, _ := newServer(t)

	w := get(server, "/api/v1/transforms/aaaaaaaaaaaa/outcomes")
	gt.Equal(t, w.Code, http.StatusOK)

	var resp map[string]any
	gt.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	outcomes, ok := resp["outcomes"].([]any)
	gt.True(t, ok)
	gt.A(t, outcomes).Length(0)
}

func TestOutcomes_Summary(t *testing.T) {
	server, l := newServer(t)
	seed(t, l)

	w := get(server, "/api/v1/transforms/"+string(testTransformID)+"/summary")
	gt.Equal(t, w.Code, http.StatusOK)

	var resp struct {
		Total  int            `json:"total"`
		Counts map[string]int `json:"counts"`
	}
	gt.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	gt.Equal(t, resp.Total, 2)
	gt.Equal(t, resp.Counts["proposed"], 1)
	gt.Equal(t, resp.Counts["failed"], 1)
}

func TestOutcomes_InvalidTransformID(t *testing.T) {
	server, _ := newServer(t)

	for _, path := range []string{
		"/api/v1/transforms/NOT-HEX/outcomes",
		"/api/v1/transforms/zzz/summary",
	} {
		w := get(server, path)
		gt.Equal(t, w.Code, http.StatusBadRequest)
	}
}

type brokenLedger struct {
	*ledger.Memory
}

func (brokenLedger) List(context.Context, model.TransformID) ([]*model.LedgerEntry, error) {
	return nil, errors.New("disk I/O error at /var/lib/flock.db")
}

func TestOutcomes_LedgerErrorIsHidden(t *testing.T) {
	server, err := controller.NewServer(context.Background(), brokenLedger{ledger.NewMemory()})
	gt.NoError(t, err)

	w := get(server, "/api/v1/transforms/"+string(testTransformID)+"/outcomes")
	gt.Equal(t, w.Code, http.StatusInternalServerError)
	gt.False(t, strings.Contains(w.Body.String(), "/var/lib/flock.db"))
}
