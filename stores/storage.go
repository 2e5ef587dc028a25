package stores

import (
	"os"

	"github.com/sirupsen/logrus"

	"collab-server/core"
	"collab-server/stores/memory"
	"collab-server/stores/s3"
	"collab-server/stores/sqlite"
)

// Stores bundles the persistence backends the collaboration service needs.
type Stores struct {
	Locks    core.LockStore
	Activity core.ActivityStore
}

// GetStores selects the backend from the environment. STORAGE_TYPE=sqlite
// persists to DATA_SOURCE_NAME (default collab.db); anything else keeps
// everything in memory. ACTIVITY_ARCHIVE=s3 additionally mirrors activity
// entries to S3_BUCKET_NAME.
func GetStores() Stores {
	storageType := os.Getenv("STORAGE_TYPE")

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	var st Stores
	switch storageType {
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "collab.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		db := sqlite.Open(dataSourceName)
		st = Stores{Locks: sqlite.NewLockStore(db), Activity: sqlite.NewActivityStore(db)}
	default:
		st = Stores{Locks: memory.NewLockStore(), Activity: memory.NewActivityStore()}
		storageField["storageType"] = "in-memory"
	}

	if os.Getenv("ACTIVITY_ARCHIVE") == "s3" {
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set when ACTIVITY_ARCHIVE=s3")
		}
		storageField["activityArchive"] = "s3"
		storageField["bucketName"] = bucketName
		st.Activity = s3.NewActivityArchive(st.Activity, bucketName)
	}

	logrus.WithFields(storageField).Info("Use storage")
	return st
}
