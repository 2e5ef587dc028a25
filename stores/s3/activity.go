package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"collab-server/core"
)

type activityArchive struct {
	primary core.ActivityStore
	client  *s3.Client
	bucket  string
}

// NewActivityArchive layers long-term S3 retention over another activity
// store. Writes go to both; the bucket holds one JSON object per entry
// under activity/<id>.json. Reads stay on the primary store.
func NewActivityArchive(primary core.ActivityStore, bucketName string) core.ActivityStore {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	return &activityArchive{
		primary: primary,
		client:  s3.NewFromConfig(cfg),
		bucket:  bucketName,
	}
}

// Record writes the entry to the primary store, then archives it. An
// archive failure is logged and swallowed: the entry is already durable
// locally and audit offload must not fail collaboration requests.
func (a *activityArchive) Record(ctx context.Context, entry core.ActivityEntry) error {
	if err := a.primary.Record(ctx, entry); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		logrus.WithError(err).WithField("activity_id", entry.ID).Error("Failed to encode activity entry for archive")
		return nil
	}
	key := path.Join("activity", entry.ID+".json")
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"bucket": a.bucket,
			"key":    key,
		}).Error("Failed to archive activity entry")
	}
	return nil
}

func (a *activityArchive) Recent(ctx context.Context, resourceID string, limit int) ([]core.ActivityEntry, error) {
	return a.primary.Recent(ctx, resourceID, limit)
}
