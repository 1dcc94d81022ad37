package httpflow

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/utils/logging"
	"github.com/cronxco/tapestry/pkg/utils/safe"
)

// Archive stores full raw provider payloads in a GCS bucket for replay and
// debugging. Logged bodies are truncated and redacted; the archive keeps the
// unmodified payload, so bucket access implies credential-equivalent trust.
type Archive struct {
	bucket *storage.BucketHandle
}

func NewArchive(ctx context.Context, bucketName string) (*Archive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &Archive{bucket: client.Bucket(bucketName)}, nil
}

// Put writes one payload. Archive failures are logged, never fatal to a sync
// run.
func (a *Archive) Put(ctx context.Context, service types.Service, integrationID types.IntegrationID, body []byte) {
	if a == nil || len(body) == 0 {
		return
	}

	name := fmt.Sprintf("%s/%s/%s-%s.json",
		service, integrationID,
		time.Now().UTC().Format("20060102T150405Z"), uuid.New().String()[:8])

	w := a.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	safe.Write(ctx, w, body)
	if err := w.Close(); err != nil {
		logging.From(ctx).Warn("failed to archive provider payload",
			"object", name, "error", err.Error())
	}
}
