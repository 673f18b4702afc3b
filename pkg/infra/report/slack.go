package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"
)

// maxListedFailures keeps the message readable for large runs
const maxListedFailures = 10

// Slack posts a run summary to an incoming webhook
type Slack struct {
	webhookURL string
}

// NewSlack creates a Slack sink
func NewSlack(webhookURL string) *Slack {
	return &Slack{webhookURL: webhookURL}
}

func (s *Slack) Publish(ctx context.Context, report *model.RunReport) error {
	if err := slack.PostWebhookContext(ctx, s.webhookURL, buildSlackMessage(report)); err != nil {
		return goerr.Wrap(err, "failed to post slack message", goerr.V("run_id", report.RunID))
	}
	return nil
}

func buildSlackMessage(report *model.RunReport) *slack.WebhookMessage {
	color := "good"
	if report.HasFailure() {
		color = "danger"
	}

	var counts []string
	for _, kind := range model.OutcomeKinds {
		if n := report.Summary[kind]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s: %d", kind, n))
		}
	}

	title := fmt.Sprintf("flock run %s", report.TransformID)
	if report.DryRun {
		title += " (dry run)"
	}

	attachment := slack.Attachment{
		Color:  color,
		Title:  title,
		Text:   strings.Join(counts, ", "),
		Footer: "run " + report.RunID,
	}

	var failures []string
	var proposals []string
	for _, r := range report.Results {
		switch r.Outcome.Kind {
		case model.OutcomeFailed:
			failures = append(failures, fmt.Sprintf("• %s: %s/%s", r.Repository.FullName(), r.Outcome.Stage, r.Outcome.ErrorKind))
		case model.OutcomeProposed:
			proposals = append(proposals, fmt.Sprintf("• <%s|%s>", r.Outcome.PullRequestURL, r.Repository.FullName()))
		}
	}

	if len(proposals) > 0 {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: "Pull requests",
			Value: truncateLines(proposals),
		})
	}
	if len(failures) > 0 {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: "Failures",
			Value: truncateLines(failures),
		})
	}
	if report.Discovery != "" {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: "Discovery",
			Value: report.Discovery,
		})
	}

	return &slack.WebhookMessage{
		Text:        title,
		Attachments: []slack.Attachment{attachment},
	}
}

func truncateLines(lines []string) string {
	if len(lines) <= maxListedFailures {
		return strings.Join(lines, "\n")
	}
	rest := len(lines) - maxListedFailures
	return strings.Join(lines[:maxListedFailures], "\n") + fmt.Sprintf("\n…and %d more", rest)
}
