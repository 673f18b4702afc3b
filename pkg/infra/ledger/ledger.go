// Package ledger stores per-repository migration outcomes keyed by repository
// and transform identity.
package ledger

import (
	"context"
	"net/url"
	"strings"

	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

// Open creates a ledger from dsn:
//
//	""  or "memory"                                in-process only
//	"sqlite:///path/to/ledger.db" or "ledger.db"   SQLite file
//	"firestore://<project>/<database>"             Cloud Firestore
func Open(ctx context.Context, dsn string) (interfaces.Ledger, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemory(), nil

	case strings.HasPrefix(dsn, "firestore://"):
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid firestore ledger DSN", goerr.V("dsn", dsn))
		}
		database := strings.Trim(u.Path, "/")
		if u.Host == "" {
			return nil, goerr.New("firestore ledger DSN needs a project ID", goerr.V("dsn", dsn))
		}
		var opts []FirestoreOption
		if c := u.Query().Get("collection"); c != "" {
			opts = append(opts, WithCollection(c))
		}
		return NewFirestore(ctx, u.Host, database, opts...)

	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLite(strings.TrimPrefix(dsn, "sqlite://"))

	default:
		return NewSQLite(dsn)
	}
}

func cloneOutcome(o *model.Outcome) *model.Outcome {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}
