package bernard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"
)

// folderMimeType is the Drive v3 mimeType that marks an item as a folder.
const folderMimeType = "application/vnd.google-apps.folder"

// ItemKind distinguishes a folder from a file within an Item.
type ItemKind int

// The two kinds of item the remote client can produce.
const (
	KindFolder ItemKind = iota
	KindFile
)

// Item is a folder or a file as reported by the remote listing or change
// stream. Which fields are meaningful depends on Kind: folders ignore
// MD5/Size/MimeType.
type Item struct {
	Kind     ItemKind
	ID       string
	DriveID  string
	Name     string
	Parent   string
	Trashed  bool
	MD5      string
	Size     int64
	MimeType string
}

// Change is one entry of the change stream C2 produces: a drive rename, a
// drive removal, an item update, or an item removal. See SPEC_FULL.md §4.2.
type Change interface {
	isChange()
}

// DriveRenamed reports that a tracked drive's display name changed.
type DriveRenamed struct {
	DriveID string
	Name    string
}

// DriveRemoved reports that the entire drive is gone from the caller's
// perspective.
type DriveRemoved struct {
	DriveID string
}

// ItemChanged reports a folder or file at its new state. Item.DriveID may
// differ from the drive being polled if the item moved to another shared
// drive.
type ItemChanged struct {
	Item Item
}

// ItemRemoved reports that id is no longer addressable. The caller does not
// know whether it was a folder or a file.
type ItemRemoved struct {
	ID string
}

func (DriveRenamed) isChange() {}
func (DriveRemoved) isChange() {}
func (ItemChanged) isChange()  {}
func (ItemRemoved) isChange()  {}

type driveItem struct {
	ID          string
	Name        string
	MimeType    string
	Parents     []string
	Size        int64 `json:"size,string"`
	MD5Checksum string
	Trashed     bool
	DriveID     string
}

func convertItem(di driveItem) Item {
	kind := KindFile
	if di.MimeType == folderMimeType {
		kind = KindFolder
	}

	var parent string
	if len(di.Parents) > 0 {
		parent = di.Parents[0]
	}

	return Item{
		Kind:     kind,
		ID:       di.ID,
		DriveID:  di.DriveID,
		Name:     di.Name,
		Parent:   parent,
		Trashed:  di.Trashed,
		MD5:      di.MD5Checksum,
		Size:     di.Size,
		MimeType: di.MimeType,
	}
}

type sharedDrive struct {
	ID   string
	Name string
}

type driveChange struct {
	Drive   sharedDrive
	DriveID string
	File    driveItem
	FileID  string
	Removed bool
}

type driveError struct {
	Domain  string
	Message string
	Reason  string
}

type errorResponse struct {
	Error struct {
		Errors  []driveError
		Code    int
		Message string
	}
}

// fetcher is the Remote Client (C2): a pure producer of Items and Changes.
// It never mutates Datastore state.
type fetcher struct {
	auth    Authenticator
	baseURL string
	client  *http.Client
	sleep   func(time.Duration)
}

func (f *fetcher) withAuth(req *http.Request) (*http.Response, error) {
	var retriedAttempts int

	handleBackoff := func() {
		var wait time.Duration

		backoff := math.Exp2(float64(retriedAttempts))
		if backoff <= 32 {
			wait = time.Duration(backoff) * time.Second
		} else {
			wait = 32 * time.Second
		}

		f.sleep(wait)
		retriedAttempts++
	}

	for {
		token, _, err := f.auth.AccessToken()
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "Bearer "+token)

		res, err := f.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			return nil, ErrNetwork
		}

		if res.StatusCode == http.StatusOK {
			return res, nil
		}

		response := new(errorResponse)
		json.NewDecoder(res.Body).Decode(response)
		res.Body.Close()

		switch res.StatusCode {
		case 429, 500, 502, 503, 504:
			handleBackoff()
			continue
		case 401:
			return nil, ErrInvalidCredentials
		case 403:
			driveErrors := response.Error.Errors
			if len(driveErrors) == 0 {
				return nil, fmt.Errorf("%v: %w", response.Error.Message, ErrNetwork)
			}

			switch driveErrors[0].Reason {
			case "userRateLimitExceeded", "rateLimitExceeded":
				handleBackoff()
				continue
			default:
				return nil, fmt.Errorf("%v: %w", response.Error.Message, ErrNetwork)
			}
		case 404:
			return nil, fmt.Errorf("%v: %w", response.Error.Message, ErrNotFound)
		default:
			return nil, fmt.Errorf("%v: %w", response.Error.Message, ErrNetwork)
		}
	}
}

func (f *fetcher) driveName(ctx context.Context, driveID string) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, "GET", f.baseURL+"/drives/"+driveID, nil)

	q := url.Values{}
	q.Add("fields", "name")
	req.URL.RawQuery = q.Encode()

	res, err := f.withAuth(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var response struct{ Name string }
	json.NewDecoder(res.Body).Decode(&response)

	return response.Name, nil
}

func (f *fetcher) startPageToken(ctx context.Context, driveID string) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, "GET", f.baseURL+"/changes/startPageToken", nil)

	q := url.Values{}
	q.Add("driveId", driveID)
	q.Add("supportsAllDrives", "true")
	req.URL.RawQuery = q.Encode()

	res, err := f.withAuth(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var response struct{ StartPageToken string }
	json.NewDecoder(res.Body).Decode(&response)

	return response.StartPageToken, nil
}

// ItemIterator is a single-pass, non-restartable sequence of Items pulled
// page by page from the Drive v3 files.list endpoint. It never buffers more
// than one page at a time.
type ItemIterator struct {
	fetch   *fetcher
	ctx     context.Context
	driveID string

	pageToken string
	started   bool
	done      bool

	buf []Item
	pos int
	err error
}

func (f *fetcher) listAll(ctx context.Context, driveID string) *ItemIterator {
	return &ItemIterator{fetch: f, ctx: ctx, driveID: driveID}
}

// Next advances the iterator, fetching another page if the current one is
// exhausted. It returns false once the sequence is done or an error
// occurred; check Err to distinguish the two.
func (it *ItemIterator) Next() bool {
	if it.err != nil {
		return false
	}

	for it.pos >= len(it.buf) {
		if it.done {
			return false
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return false
		}
	}

	it.pos++
	return true
}

// Item returns the current item. Only valid after a Next call returned true.
func (it *ItemIterator) Item() Item {
	return it.buf[it.pos-1]
}

// Err returns the first error encountered, if any.
func (it *ItemIterator) Err() error {
	return it.err
}

func (it *ItemIterator) fetchPage() error {
	req, _ := http.NewRequestWithContext(it.ctx, "GET", it.fetch.baseURL+"/files", nil)

	q := url.Values{}
	q.Add("corpora", "drive")
	q.Add("driveId", it.driveID)
	q.Add("pageSize", "1000")
	q.Add("includeItemsFromAllDrives", "true")
	q.Add("supportsAllDrives", "true")
	q.Add("fields", "nextPageToken,files(id,driveId,name,mimeType,parents,md5Checksum,size,trashed)")
	if it.started && it.pageToken != "" {
		q.Add("pageToken", it.pageToken)
	}
	req.URL.RawQuery = q.Encode()

	res, err := it.fetch.withAuth(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var response struct {
		Files         []driveItem
		NextPageToken string
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return fmt.Errorf("%v: %w", err, ErrNetwork)
	}

	it.buf = it.buf[:0]
	it.pos = 0
	for _, di := range response.Files {
		it.buf = append(it.buf, convertItem(di))
	}

	it.started = true
	it.pageToken = response.NextPageToken
	it.done = it.pageToken == ""

	return nil
}

// ChangeIterator is a single-pass, non-restartable sequence of Changes
// pulled page by page from the Drive v3 changes.list endpoint. PageToken is
// only meaningful once the sequence is exhausted (Next returned false with
// a nil Err).
type ChangeIterator struct {
	fetch   *fetcher
	ctx     context.Context
	driveID string

	pageToken    string
	newPageToken string
	done         bool

	buf []Change
	pos int
	err error
}

func (f *fetcher) listChanges(ctx context.Context, driveID, sinceToken string) *ChangeIterator {
	return &ChangeIterator{fetch: f, ctx: ctx, driveID: driveID, pageToken: sinceToken}
}

// Next advances the iterator. See ItemIterator.Next.
func (it *ChangeIterator) Next() bool {
	if it.err != nil {
		return false
	}

	for it.pos >= len(it.buf) {
		if it.done {
			return false
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return false
		}
	}

	it.pos++
	return true
}

// Change returns the current change. Only valid after a Next call returned
// true.
func (it *ChangeIterator) Change() Change {
	return it.buf[it.pos-1]
}

// Err returns the first error encountered, if any.
func (it *ChangeIterator) Err() error {
	return it.err
}

// PageToken returns the new high-water-mark cursor. Only meaningful once
// Next has returned false with a nil Err.
func (it *ChangeIterator) PageToken() string {
	return it.newPageToken
}

func (it *ChangeIterator) fetchPage() error {
	req, _ := http.NewRequestWithContext(it.ctx, "GET", it.fetch.baseURL+"/changes", nil)

	q := url.Values{}
	q.Add("driveId", it.driveID)
	q.Add("pageSize", "1000")
	q.Add("pageToken", it.pageToken)
	q.Add("includeItemsFromAllDrives", "true")
	q.Add("supportsAllDrives", "true")
	q.Add("fields", "nextPageToken,newStartPageToken,changes(driveId,fileId,removed,drive(id,name),file(id,driveId,name,mimeType,parents,md5Checksum,size,trashed))")
	req.URL.RawQuery = q.Encode()

	res, err := it.fetch.withAuth(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var response struct {
		NextPageToken     string
		NewStartPageToken string
		Changes           []driveChange
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return fmt.Errorf("%v: %w", err, ErrNetwork)
	}

	it.buf = it.buf[:0]
	it.pos = 0

	for _, change := range response.Changes {
		switch {
		case change.DriveID != "" && change.Removed:
			it.buf = append(it.buf, DriveRemoved{DriveID: change.DriveID})
		case change.DriveID != "":
			it.buf = append(it.buf, DriveRenamed{DriveID: change.DriveID, Name: change.Drive.Name})
		case change.Removed:
			it.buf = append(it.buf, ItemRemoved{ID: change.FileID})
		case change.FileID != "":
			it.buf = append(it.buf, ItemChanged{Item: convertItem(change.File)})
		}
	}

	it.pageToken = response.NextPageToken
	it.newPageToken = response.NewStartPageToken
	it.done = it.pageToken == ""

	return nil
}
