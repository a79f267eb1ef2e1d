package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/semmidev/vaultkeeper/internal/domain"
)

// fakeDrive serves files.list and files.create with canned folders.
type fakeDrive struct {
	mu      sync.Mutex
	folders []*drive.File
	queries []string
	created []drive.File
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(&drive.FileList{Files: f.folders})
	case http.MethodPost:
		var file drive.File
		_ = json.NewDecoder(r.Body).Decode(&file)
		f.created = append(f.created, file)
		_ = json.NewEncoder(w).Encode(&drive.File{Id: "new-id"})
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestDrive(t *testing.T, fake *fakeDrive) *GDriveStorage {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	service, err := drive.NewService(context.Background(),
		option.WithHTTPClient(server.Client()),
		option.WithEndpoint(server.URL+"/"),
	)
	So(err, ShouldBeNil)
	return NewGDriveWithService(service, "parent-folder")
}

func TestGDriveStorage(t *testing.T) {
	Convey("Given a GDriveStorage on a fake Drive API", t, func() {
		ctx := context.Background()
		fake := &fakeDrive{folders: []*drive.File{{Id: "f1", Name: "db-backups"}}}
		store := newTestDrive(t, fake)

		Convey("When listing buckets", func() {
			buckets, err := store.ListBuckets(ctx)

			Convey("It lists folders under the parent", func() {
				So(err, ShouldBeNil)
				So(buckets, ShouldResemble, []string{"db-backups"})
				So(fake.queries[0], ShouldContainSubstring, "'parent-folder' in parents")
				So(fake.queries[0], ShouldContainSubstring, folderMimeType)
			})
		})

		Convey("When making a bucket", func() {
			err := store.MakeBucket(ctx, "db-backups", "ignored")

			Convey("It creates a folder under the parent", func() {
				So(err, ShouldBeNil)
				So(len(fake.created), ShouldEqual, 1)
				So(fake.created[0].MimeType, ShouldEqual, folderMimeType)
				So(fake.created[0].Parents, ShouldResemble, []string{"parent-folder"})
			})
		})

		Convey("When the bucket folder does not exist", func() {
			fake.folders = nil
			err := store.RemoveObject(ctx, "missing", "x.gz")
			So(errors.Is(err, domain.ErrUpload), ShouldBeTrue)
		})
	})
}

func TestQuoteQuery(t *testing.T) {
	Convey("quoteQuery escapes quotes and backslashes", t, func() {
		So(quoteQuery(`it's`), ShouldEqual, `it\'s`)
		So(quoteQuery(`a\b`), ShouldEqual, `a\\b`)
	})
}
