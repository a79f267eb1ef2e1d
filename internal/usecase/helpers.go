package usecase

import (
	"strings"
	"time"

	"github.com/semmidev/vaultkeeper/internal/adapter/storage"
)

// backupTime reads the hour directory that ObjectPath puts into every object
// path. Objects without one were not written by us.
func backupTime(objectPath string) (time.Time, bool) {
	parts := strings.Split(objectPath, "/")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	// the hour directory is the parent of the file name
	t, err := time.Parse(storage.HourLayout, parts[len(parts)-2])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
