package ledger

import (
	"context"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection = "flock"
	outcomeCollection = "outcomes"
)

// Firestore is a ledger stored as one document per (transform, repository)
// under <collection>/<transform_id>/outcomes/<owner:name>
type Firestore struct {
	client     *firestore.Client
	collection string
}

// FirestoreOption configures the Firestore ledger
type FirestoreOption func(*Firestore)

// WithCollection sets the root collection name
func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

// NewFirestore connects to the Firestore database. An empty databaseID selects
// the default database.
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	f := &Firestore{client: client, collection: defaultCollection}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) outcomes(id model.TransformID) *firestore.CollectionRef {
	return f.client.Collection(f.collection).Doc(string(id)).Collection(outcomeCollection)
}

// docID avoids "/" which Firestore treats as a path separator
func docID(repo *model.RepositoryRef) string {
	return strings.ReplaceAll(repo.FullName(), "/", ":")
}

func (f *Firestore) Record(ctx context.Context, repo *model.RepositoryRef, id model.TransformID, outcome *model.Outcome) error {
	entry := &model.LedgerEntry{
		Repository:  repo.FullName(),
		TransformID: id,
		Outcome:     outcome,
	}
	if _, err := f.outcomes(id).Doc(docID(repo)).Set(ctx, entry); err != nil {
		return goerr.Wrap(err, "failed to record outcome",
			goerr.V("repo", repo.FullName()),
			goerr.V("transform_id", id))
	}
	return nil
}

func (f *Firestore) Get(ctx context.Context, repo *model.RepositoryRef, id model.TransformID) (*model.Outcome, error) {
	snap, err := f.outcomes(id).Doc(docID(repo)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get outcome",
			goerr.V("repo", repo.FullName()),
			goerr.V("transform_id", id))
	}

	var entry model.LedgerEntry
	if err := snap.DataTo(&entry); err != nil {
		return nil, goerr.Wrap(err, "failed to decode outcome", goerr.V("repo", repo.FullName()))
	}
	return entry.Outcome, nil
}

func (f *Firestore) Summarize(ctx context.Context, id model.TransformID) (model.Summary, error) {
	entries, err := f.List(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := model.Summary{}
	for _, e := range entries {
		if e.Outcome != nil {
			summary[e.Outcome.Kind]++
		}
	}
	return summary, nil
}

func (f *Firestore) List(ctx context.Context, id model.TransformID) ([]*model.LedgerEntry, error) {
	iter := f.outcomes(id).OrderBy("repository", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var entries []*model.LedgerEntry
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list outcomes", goerr.V("transform_id", id))
		}

		var entry model.LedgerEntry
		if err := snap.DataTo(&entry); err != nil {
			return nil, goerr.Wrap(err, "failed to decode outcome", goerr.V("doc", snap.Ref.ID))
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
