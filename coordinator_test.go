package bernard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ds "github.com/gdrivemirror/bernard/datastore"
	"github.com/gdrivemirror/bernard/datastore/sqlite"
)

// scenarioServer serves canned Drive v3 responses: name/startPageToken for
// add_drive, and one page of files/changes per call, keyed by path.
type scenarioServer struct {
	driveName      string
	startPageToken string
	files          []map[string]any
	changes        []map[string]any
	newPageToken   string
}

func (s *scenarioServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/drives/"+testDriveID:
			json.NewEncoder(w).Encode(map[string]string{"name": s.driveName})
		case r.URL.Path == "/changes/startPageToken":
			json.NewEncoder(w).Encode(map[string]string{"startPageToken": s.startPageToken})
		case r.URL.Path == "/files":
			json.NewEncoder(w).Encode(map[string]any{"files": s.files})
		case r.URL.Path == "/changes":
			json.NewEncoder(w).Encode(map[string]any{
				"newStartPageToken": s.newPageToken,
				"changes":           s.changes,
			})
		default:
			t.Fatalf("unexpected request path: %s", r.URL.Path)
		}
	}
}

const testDriveID = "D1"

func newTestBernard(t *testing.T, s *scenarioServer) (*Bernard, *sqlite.Datastore) {
	t.Helper()

	server := httptest.NewServer(s.handler(t))
	t.Cleanup(server.Close)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	store, err := sqlite.Open(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := New(mockAuth{}, store)
	b.fetch.baseURL = server.URL
	b.fetch.client = server.Client()

	return b, store
}

func TestScenarioS1EmptyDrive(t *testing.T) {
	b, store := newTestBernard(t, &scenarioServer{
		driveName:      "Team",
		startPageToken: "t0",
	})

	require.NoError(t, b.AddDrive(context.Background(), testDriveID))

	exists, err := store.DriveExists(testDriveID)
	require.NoError(t, err)
	assert.True(t, exists)

	token, err := store.PageToken(testDriveID)
	require.NoError(t, err)
	assert.Equal(t, "t0", token)

	folders, err := b.ChangedFolders(testDriveID)
	require.NoError(t, err)
	assert.Empty(t, folders)

	files, err := b.ChangedFiles(testDriveID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScenarioS2SimpleTree(t *testing.T) {
	b, _ := newTestBernard(t, &scenarioServer{
		driveName:      "Team",
		startPageToken: "t0",
		files: []map[string]any{
			{"id": "A", "driveId": testDriveID, "name": "A", "mimeType": folderMimeType, "parents": []string{testDriveID}},
			{"id": "B", "driveId": testDriveID, "name": "B", "mimeType": folderMimeType, "parents": []string{"A"}},
			{"id": "f", "driveId": testDriveID, "name": "f", "mimeType": "image/png", "parents": []string{"B"}, "md5Checksum": "abc"},
		},
	})

	require.NoError(t, b.AddDrive(context.Background(), testDriveID))

	paths, err := b.ChangedPaths(testDriveID)
	require.NoError(t, err)
	assert.Empty(t, paths, "bootstrap must not populate the changelog")
}

func TestScenarioS3DeltaRename(t *testing.T) {
	b, store := newTestBernard(t, &scenarioServer{
		driveName:      "Team",
		startPageToken: "t0",
	})
	require.NoError(t, b.AddDrive(context.Background(), testDriveID))

	server2 := &scenarioServer{
		newPageToken: "t1",
		changes: []map[string]any{
			{"driveId": testDriveID, "drive": map[string]any{"id": testDriveID, "name": "Renamed"}},
		},
	}
	s := httptest.NewServer(server2.handler(t))
	defer s.Close()
	b.fetch.baseURL = s.URL
	b.fetch.client = s.Client()

	require.NoError(t, b.SyncDrive(context.Background(), testDriveID))

	token, err := store.PageToken(testDriveID)
	require.NoError(t, err)
	assert.Equal(t, "t1", token)

	folders, err := store.ChangedFolders(testDriveID)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, testDriveID, folders[0].ID)
	assert.Equal(t, "Renamed", folders[0].Name)
}

func TestScenarioS4MoveOut(t *testing.T) {
	b, store := newTestBernard(t, &scenarioServer{
		driveName:      "Team",
		startPageToken: "t0",
		files: []map[string]any{
			{"id": "A", "driveId": testDriveID, "name": "A", "mimeType": folderMimeType, "parents": []string{testDriveID}},
			{"id": "f", "driveId": testDriveID, "name": "f", "mimeType": "image/png", "parents": []string{"A"}},
		},
	})
	require.NoError(t, b.AddDrive(context.Background(), testDriveID))

	server2 := &scenarioServer{
		newPageToken: "t2",
		changes: []map[string]any{
			{"fileId": "f", "file": map[string]any{"id": "f", "driveId": "D2", "name": "f", "mimeType": "image/png", "parents": []string{"D2root"}}},
		},
	}
	s := httptest.NewServer(server2.handler(t))
	defer s.Close()
	b.fetch.baseURL = s.URL
	b.fetch.client = s.Client()

	require.NoError(t, b.SyncDrive(context.Background(), testDriveID))

	files, err := store.ChangedFiles(testDriveID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].Deleted)

	folders, err := b.ChangedFolders(testDriveID)
	require.NoError(t, err)
	assert.Empty(t, folders, "folder A must be intact")
}

func TestScenarioS5DeleteCascade(t *testing.T) {
	b, store := newTestBernard(t, &scenarioServer{
		driveName:      "Team",
		startPageToken: "t0",
		files: []map[string]any{
			{"id": "A", "driveId": testDriveID, "name": "A", "mimeType": folderMimeType, "parents": []string{testDriveID}},
			{"id": "B", "driveId": testDriveID, "name": "B", "mimeType": folderMimeType, "parents": []string{"A"}},
			{"id": "f", "driveId": testDriveID, "name": "f", "mimeType": "image/png", "parents": []string{"B"}},
		},
	})
	require.NoError(t, b.AddDrive(context.Background(), testDriveID))

	server2 := &scenarioServer{
		newPageToken: "t5",
		changes: []map[string]any{
			{"fileId": "A", "removed": true},
		},
	}
	s := httptest.NewServer(server2.handler(t))
	defer s.Close()
	b.fetch.baseURL = s.URL
	b.fetch.client = s.Client()

	require.NoError(t, b.SyncDrive(context.Background(), testDriveID))

	folders, err := store.ChangedFolders(testDriveID)
	require.NoError(t, err)
	require.NotEmpty(t, folders)
	assert.True(t, folders[0].Deleted)
}

func TestScenarioS6TornPage(t *testing.T) {
	b, store := newTestBernard(t, &scenarioServer{
		driveName:      "Team",
		startPageToken: "t0",
	})
	require.NoError(t, b.AddDrive(context.Background(), testDriveID))

	server2 := &scenarioServer{
		newPageToken: "t6",
		changes: []map[string]any{
			{"fileId": "f", "file": map[string]any{"id": "f", "driveId": testDriveID, "name": "f", "mimeType": "image/png", "parents": []string{"Z"}}},
		},
	}
	s := httptest.NewServer(server2.handler(t))
	defer s.Close()
	b.fetch.baseURL = s.URL
	b.fetch.client = s.Client()

	err := b.SyncDrive(context.Background(), testDriveID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartialChangeList))
	assert.True(t, errors.Is(err, ds.ErrDataAnomaly))

	token, err := store.PageToken(testDriveID)
	require.NoError(t, err)
	assert.Equal(t, "t0", token, "page token must be unchanged after a partial change list")
}
