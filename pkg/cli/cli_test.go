package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/flock/pkg/infra/ledger"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"failed repositories", goerr.New("x", goerr.T(types.ErrTagRunFailed)), ExitRunFailed},
		{"fatal precondition", goerr.New("x", goerr.T(types.ErrTagFatalPrecondition)), ExitFatalPrecondition},
		{"usage error", goerr.New("flag provided but not defined"), ExitFatalPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Equal(t, ExitCode(tt.err), tt.want)
		})
	}
}

func TestMigrate_InvalidPatternIsFatal(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{
		"flock", "migrate", "--mode", "regex", "--pattern", "(", "--github-token", "dummy",
	}, &out)
	gt.Error(t, err)
	gt.Equal(t, ExitCode(err), ExitFatalPrecondition)
	gt.True(t, goerr.HasTag(err, types.ErrTagInvalidPattern))
}

func TestMigrate_MissingCredentialsIsFatal(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("FLOCK_GITHUB_TOKEN", "")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"flock", "migrate", "--pattern", "foo", "--replacement", "bar",
	}, &out)
	gt.Error(t, err)
	gt.Equal(t, ExitCode(err), ExitFatalPrecondition)
	gt.True(t, goerr.HasTag(err, types.ErrTagAuthenticationFailed))
}

func TestMigrate_InvalidScopeIsFatal(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{
		"flock", "migrate", "--pattern", "foo", "--scope", "everywhere", "--github-token", "dummy",
	}, &out)
	gt.Error(t, err)
	gt.Equal(t, ExitCode(err), ExitFatalPrecondition)
}

func seedLedger(t *testing.T) (string, model.TransformID) {
	t.Helper()
	ctx := context.Background()
	spec, err := model.NewTransformSpec(model.TransformSpec{Pattern: "foo", Replacement: "bar"})
	gt.NoError(t, err)

	path := filepath.Join(t.TempDir(), "flock.db")
	l, err := ledger.Open(ctx, path)
	gt.NoError(t, err)
	defer l.Close()

	gt.NoError(t, l.Record(ctx, &model.RepositoryRef{Owner: "acme", Name: "api"}, spec.ID(),
		&model.Outcome{Kind: model.OutcomeProposed, PullRequestURL: "https://github.com/acme/api/pull/7", RecordedAt: time.Now()}))
	gt.NoError(t, l.Record(ctx, &model.RepositoryRef{Owner: "acme", Name: "web"}, spec.ID(),
		&model.Outcome{Kind: model.OutcomeSkipped, RecordedAt: time.Now()}))
	return path, spec.ID()
}

func TestLedger_PrintsSummary(t *testing.T) {
	path, id := seedLedger(t)

	var out bytes.Buffer
	gt.NoError(t, run(context.Background(), []string{
		"flock", "ledger", "--ledger", path, "--transform-id", string(id),
	}, &out))

	s := out.String()
	gt.True(t, strings.Contains(s, "acme/api"))
	gt.True(t, strings.Contains(s, "https://github.com/acme/api/pull/7"))
	gt.True(t, strings.Contains(s, "2 repositories"))
}

func TestLedger_DerivesTransformIDFromPattern(t *testing.T) {
	path, _ := seedLedger(t)

	var out bytes.Buffer
	gt.NoError(t, run(context.Background(), []string{
		"flock", "ledger", "--ledger", path, "--pattern", "foo", "--replacement", "bar", "--json",
	}, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	gt.A(t, lines).Length(2)

	var entry model.LedgerEntry
	gt.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	gt.Equal(t, entry.Repository, "acme/api")
	gt.Equal(t, entry.Outcome.Kind, model.OutcomeProposed)
}

func TestLedger_NeedsTransform(t *testing.T) {
	path, _ := seedLedger(t)

	var out bytes.Buffer
	err := run(context.Background(), []string{"flock", "ledger", "--ledger", path}, &out)
	gt.Error(t, err)
	gt.Equal(t, ExitCode(err), ExitFatalPrecondition)
}

func TestLedgerReport(t *testing.T) {
	report := ledgerReport("abc", []*model.LedgerEntry{
		{Repository: "acme/api", Outcome: &model.Outcome{Kind: model.OutcomeFailed}},
		{Repository: "acme/web", Outcome: &model.Outcome{Kind: model.OutcomeProposed}},
	})
	gt.Equal(t, report.Results[0].Repository.Owner, "acme")
	gt.Equal(t, report.Results[1].Repository.Name, "web")
	gt.Equal(t, report.Summary.Failed(), 1)
	gt.True(t, report.HasFailure())
}
