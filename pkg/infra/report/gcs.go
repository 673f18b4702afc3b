// Package report publishes run reports to external services.
package report

import (
	"context"
	"encoding/json"
	"path"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

// GCS uploads every report as JSON to <bucket>/<prefix>/<transform_id>/<run_id>.json
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS sink with application default credentials
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

// ObjectName returns the object a report is written to
func (g *GCS) ObjectName(report *model.RunReport) string {
	return path.Join(g.prefix, string(report.TransformID), report.RunID+".json")
}

func (g *GCS) Publish(ctx context.Context, report *model.RunReport) error {
	name := g.ObjectName(report)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"

	if err := json.NewEncoder(w).Encode(report); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write report", goerr.V("bucket", g.bucket), goerr.V("object", name))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to upload report", goerr.V("bucket", g.bucket), goerr.V("object", name))
	}

	ctxlog.From(ctx).Info("Uploaded run report", "bucket", g.bucket, "object", name)
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
