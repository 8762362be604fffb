// Package bernard is a synchronisation backend that mirrors one or more
// Google Drive shared drives into a local SQLite datastore.
//
// Bernard itself only orchestrates: fetching pages from the Drive v3 API
// (fetch.go), reconstructing a fresh drive's tree (bootstrap.go), merging a
// page of deltas into an existing tree (integrate.go), and exposing the
// per-drive changelog the datastore accumulates (coordinator.go). See
// SPEC_FULL.md and DESIGN.md for the full design.
package bernard

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	ds "github.com/gdrivemirror/bernard/datastore"
)

// Authenticator represents any struct which can create an access token on
// demand, e.g. a service-account JWT exchange such as github.com/m-rots/stubbs.
type Authenticator interface {
	AccessToken() (string, int64, error)
}

// Bernard is a synchronisation backend for Google Drive shared drives. A
// single Bernard value may track any number of drives; the drive id is an
// argument to every Coordinator method rather than baked into the value.
type Bernard struct {
	fetch  *fetcher
	store  ds.Datastore
	logger *slog.Logger
}

// Option configures a Bernard instance at construction time.
type Option func(*Bernard)

// WithHTTPClient overrides the default *http.Client, e.g. to configure a
// proxy via its Transport.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Bernard) {
		b.fetch.client = client
	}
}

// WithLogger overrides the default slog.Default logger, e.g. to attach a
// correlation id or route bootstrap/sync diagnostics to a specific handler.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bernard) {
		b.logger = logger
	}
}

// New creates a new instance of Bernard backed by the given Datastore.
func New(auth Authenticator, store ds.Datastore, opts ...Option) *Bernard {
	const baseURL string = "https://www.googleapis.com/drive/v3"

	b := &Bernard{
		fetch: &fetcher{
			auth:    auth,
			baseURL: baseURL,
			client: &http.Client{
				Timeout: 15 * time.Second,
			},
			sleep: time.Sleep,
		},
		store:  store,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// ErrInvalidCredentials can occur when the wrong authentication scopes are
// used, the access token does not have access to the specified resource, or
// the token is simply invalid or expired.
var ErrInvalidCredentials = errors.New("bernard: invalid credentials")

// ErrNotFound only occurs when the provided auth does not have access to the
// shared drive or if the shared drive does not exist.
var ErrNotFound = errors.New("bernard: cannot find shared drive")

// ErrNetwork is the result of a networking error while contacting the
// Google Drive API, after internal retries have given up.
var ErrNetwork = errors.New("bernard: network related error")

// ErrStore indicates a persistent-store failure other than a partial
// change list: I/O, schema, or a constraint violation unrelated to a torn
// remote page. Callers should diagnose their datastore.
var ErrStore = errors.New("bernard: datastore related error")

// ErrPartialChangeList indicates the remote change page referenced a
// parent the local store does not have, and the page did not include that
// parent either. The sync's transaction was rolled back and its page token
// left unchanged; calling SyncDrive again will retry from the same cursor.
var ErrPartialChangeList = errors.New("bernard: received a partial change list from Google")

// ErrDriveExists is returned by AddDrive when the drive is already tracked.
var ErrDriveExists = errors.New("bernard: drive already exists")

// ErrDriveNotFound is returned by RemoveDrive when the drive is not
// tracked.
var ErrDriveNotFound = errors.New("bernard: drive not found")

// wrapStoreErr classifies an error surfaced by the datastore into one of
// Bernard's public sentinels.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ds.ErrDataAnomaly) {
		return errors.Join(ErrPartialChangeList, err)
	}

	return errors.Join(ErrStore, err)
}
