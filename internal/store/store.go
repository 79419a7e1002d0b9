// Package store persists mined records in a document driver and applies the
// versioning rules when records are submitted again.
//
// Every create-or-fetch goes through Driver.PutIfAbsent, so two workers
// racing on the same person, file or tag end up with one document.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/vcsmine/internal/metrics"
	"github.com/kilupskalvis/vcsmine/internal/models"
	"github.com/kilupskalvis/vcsmine/internal/versioning"
)

// DefaultMaxDocumentSize is the largest document written by default.
const DefaultMaxDocumentSize = 16 << 20

const (
	bucketProjects = "projects"
	bucketSystems  = "vcs_systems"
	bucketPeople   = "people"

	bucketFiles       = "files"
	bucketCommits     = "commits"
	bucketTags        = "tags"
	bucketFileActions = "file_actions"
	bucketHunks       = "hunks"
	bucketBranches    = "branches"
)

// Options configures a Store.
type Options struct {
	Project        string
	URL            string
	RepositoryType string
	// MaxDocumentSize caps the encoded size of one document. Zero means
	// DefaultMaxDocumentSize.
	MaxDocumentSize int
	// Now is called once at Open; its value is the sync time of every
	// write. Defaults to time.Now.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Store is the sink of one sync run over one repository.
type Store struct {
	driver  Driver
	project *models.Project
	system  *models.VCSSystem
	now     time.Time
	maxDoc  int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type personDoc struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type fileDoc struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type commitDoc struct {
	models.CommitRecord
	AuthorID    string `json:"author_id"`
	CommitterID string `json:"committer_id"`
}

type fileActionDoc struct {
	models.FileAction
	CommitID  string `json:"commit_id"`
	FileID    string `json:"file_id"`
	OldFileID string `json:"old_file_id,omitempty"`
}

// Open create-or-fetches the project and VCS system the run writes into.
func Open(ctx context.Context, driver Driver, opts Options) (*Store, error) {
	if opts.Project == "" {
		return nil, errors.New("project name is required")
	}
	if opts.URL == "" {
		return nil, errors.New("repository url is required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxDoc := opts.MaxDocumentSize
	if maxDoc <= 0 {
		maxDoc = DefaultMaxDocumentSize
	}

	s := &Store{
		driver:  driver,
		now:     now().UTC(),
		maxDoc:  maxDoc,
		logger:  logger.With("component", "store"),
		metrics: opts.Metrics,
	}

	project, _, err := createOrFetch(ctx, driver, bucketProjects, opts.Project, &models.Project{
		ID:        uuid.NewString(),
		Name:      opts.Project,
		CreatedAt: s.now,
	})
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", opts.Project, err)
	}

	system, created, err := createOrFetch(ctx, driver, bucketSystems, opts.URL, &models.VCSSystem{
		ID:             uuid.NewString(),
		ProjectID:      project.ID,
		URL:            opts.URL,
		RepositoryType: opts.RepositoryType,
		LastUpdated:    s.now,
	})
	if err != nil {
		return nil, fmt.Errorf("vcs system %s: %w", opts.URL, err)
	}
	if system.ProjectID != project.ID {
		return nil, fmt.Errorf("repository %s is already mined under another project", opts.URL)
	}
	s.project = project
	s.system = system

	if !created {
		system.LastUpdated = s.now
		if err := s.putJSON(ctx, bucketSystems, opts.URL, system); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("store opened", "project", project.Name, "vcs_system", system.ID, "created", created)
	return s, nil
}

// Project returns the project of the run.
func (s *Store) Project() *models.Project { return s.project }

// System returns the VCS system of the run.
func (s *Store) System() *models.VCSSystem { return s.system }

// SyncTime returns the timestamp applied to every write of the run.
func (s *Store) SyncTime() time.Time { return s.now }

// bucket namespaces per-repository buckets by the VCS system.
func (s *Store) bucket(name string) string {
	return s.system.ID + "/" + name
}

// AddCommit stores a classified commit. A commit already stored only gets
// its branch membership versioned, or is restored when it was soft-deleted.
func (s *Store) AddCommit(ctx context.Context, rec *models.CommitRecord) error {
	for _, tag := range rec.Tags {
		if _, _, err := s.CreateTag(ctx, tag); err != nil {
			return err
		}
	}

	existing, err := s.commitDoc(ctx, rec.ID)
	if errors.Is(err, ErrNotFound) {
		return s.insertCommit(ctx, rec)
	}
	if err != nil {
		return err
	}

	var changed bool
	if existing.IsDeleted() {
		changed = versioning.Restore(&existing.CommitRecord, rec.Branches, s.now)
		if changed {
			s.metrics.Reconciled("commit", "restored")
			s.logger.Info("commit restored", "commit", rec.ShortID())
		}
	} else {
		changed = versioning.ApplyBranches(&existing.CommitRecord, rec.Branches, s.now)
	}
	if !changed {
		return nil
	}
	return s.putJSON(ctx, s.bucket(bucketCommits), rec.ID, existing)
}

func (s *Store) insertCommit(ctx context.Context, rec *models.CommitRecord) error {
	authorID, err := s.personID(ctx, rec.Author)
	if err != nil {
		return err
	}
	committerID, err := s.personID(ctx, rec.Committer)
	if err != nil {
		return err
	}

	for _, fa := range rec.FileActions {
		if err := s.addFileAction(ctx, rec.ID, fa); err != nil {
			return fmt.Errorf("file action %s of %s: %w", fa.Path, rec.ShortID(), err)
		}
	}

	doc := commitDoc{CommitRecord: *rec, AuthorID: authorID, CommitterID: committerID}
	doc.Tags = nil
	doc.FileActions = nil
	doc.DeletedAt = nil
	doc.PreviousStates = nil
	doc.ModifiedAt = s.now
	return s.putJSON(ctx, s.bucket(bucketCommits), rec.ID, &doc)
}

func (s *Store) addFileAction(ctx context.Context, commitID string, fa *models.FileAction) error {
	fileID, err := s.fileID(ctx, fa.Path)
	if err != nil {
		return err
	}
	doc := fileActionDoc{FileAction: *fa, CommitID: commitID, FileID: fileID}
	doc.Hunks = nil
	if fa.OldPath != "" {
		if doc.OldFileID, err = s.fileID(ctx, fa.OldPath); err != nil {
			return err
		}
	}

	key := fileActionKey(commitID, fa.ParentRevisionHash, fileID)
	if err := s.putJSON(ctx, s.bucket(bucketFileActions), key, &doc); err != nil {
		return err
	}
	// an interrupted earlier run may have left hunks under this key
	if err := s.driver.DeletePrefix(ctx, s.bucket(bucketHunks), key); err != nil {
		return err
	}
	if len(fa.Hunks) > 0 {
		s.putHunks(ctx, key, fa.Hunks)
	}
	s.metrics.FileAction(string(fa.Mode), len(fa.Hunks))
	return nil
}

// putHunks writes all hunks as one document, or one document per hunk when
// the bulk write is rejected. Hunks that still cannot be written are dropped.
func (s *Store) putHunks(ctx context.Context, key string, hunks []models.Hunk) {
	bucket := s.bucket(bucketHunks)
	err := s.putLimited(ctx, bucket, key, hunks)
	if err == nil {
		return
	}
	s.logger.Warn("bulk hunk write rejected, writing hunks one by one",
		"file_action", key, "hunks", len(hunks), "error", err)

	for i := range hunks {
		if err := s.putLimited(ctx, bucket, hunkKey(key, i), &hunks[i]); err != nil {
			s.logger.Warn("dropping hunk", "file_action", key, "index", i, "error", err)
			s.metrics.Dropped("hunk")
		}
	}
}

func (s *Store) putLimited(ctx context.Context, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > s.maxDoc {
		return fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, len(data))
	}
	return s.driver.Put(ctx, bucket, key, data)
}

func (s *Store) personID(ctx context.Context, p models.Person) (string, error) {
	doc, _, err := createOrFetch(ctx, s.driver, bucketPeople, p.Key(), &personDoc{
		ID:    uuid.NewString(),
		Name:  p.Name,
		Email: p.Email,
	})
	if err != nil {
		return "", fmt.Errorf("person %s <%s>: %w", p.Name, p.Email, err)
	}
	return doc.ID, nil
}

func (s *Store) fileID(ctx context.Context, path string) (string, error) {
	doc, _, err := createOrFetch(ctx, s.driver, s.bucket(bucketFiles), path, &fileDoc{
		ID:   uuid.NewString(),
		Path: path,
	})
	if err != nil {
		return "", fmt.Errorf("file %s: %w", path, err)
	}
	return doc.ID, nil
}

// ContainsCommit reports whether a live commit with the id is stored.
// Soft-deleted commits are not contained, so they get submitted and restored.
func (s *Store) ContainsCommit(ctx context.Context, id string) (bool, error) {
	doc, err := s.commitDoc(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !doc.IsDeleted(), nil
}

// LiveCommitIDs returns the ids of all stored commits that are not deleted.
func (s *Store) LiveCommitIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.driver.Scan(ctx, s.bucket(bucketCommits), "", func(key string, value []byte) error {
		var state struct {
			DeletedAt *time.Time `json:"deleted_at"`
		}
		if err := json.Unmarshal(value, &state); err != nil {
			return fmt.Errorf("decode commit %s: %w", key, err)
		}
		if state.DeletedAt == nil {
			ids = append(ids, key)
		}
		return nil
	})
	return ids, err
}

// MarkCommitDeleted soft-deletes a stored commit. It reports whether the
// commit changed.
func (s *Store) MarkCommitDeleted(ctx context.Context, id string) (bool, error) {
	doc, err := s.commitDoc(ctx, id)
	if err != nil {
		return false, err
	}
	if !versioning.SoftDeleteCommit(&doc.CommitRecord, s.now) {
		return false, nil
	}
	return true, s.putJSON(ctx, s.bucket(bucketCommits), id, doc)
}

// GetCommit reassembles a stored commit with its tags, file actions and hunks.
func (s *Store) GetCommit(ctx context.Context, id string) (*models.CommitRecord, error) {
	doc, err := s.commitDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := doc.CommitRecord

	err = s.driver.Scan(ctx, s.bucket(bucketTags), id+"/", func(_ string, value []byte) error {
		var tag models.TagRecord
		if err := json.Unmarshal(value, &tag); err != nil {
			return err
		}
		rec.Tags = append(rec.Tags, &tag)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tags of %s: %w", id, err)
	}

	err = s.driver.Scan(ctx, s.bucket(bucketFileActions), id+"/", func(key string, value []byte) error {
		var fa fileActionDoc
		if err := json.Unmarshal(value, &fa); err != nil {
			return err
		}
		hunks, err := s.hunks(ctx, key)
		if err != nil {
			return err
		}
		action := fa.FileAction
		action.Hunks = hunks
		rec.FileActions = append(rec.FileActions, &action)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file actions of %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) hunks(ctx context.Context, key string) ([]models.Hunk, error) {
	bucket := s.bucket(bucketHunks)
	data, err := s.driver.Get(ctx, bucket, key)
	if err == nil {
		var hunks []models.Hunk
		return hunks, json.Unmarshal(data, &hunks)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var hunks []models.Hunk
	err = s.driver.Scan(ctx, bucket, key+"#", func(_ string, value []byte) error {
		var h models.Hunk
		if err := json.Unmarshal(value, &h); err != nil {
			return err
		}
		hunks = append(hunks, h)
		return nil
	})
	return hunks, err
}

func (s *Store) commitDoc(ctx context.Context, id string) (*commitDoc, error) {
	var doc commitDoc
	if err := s.getJSON(ctx, s.bucket(bucketCommits), id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Finalize records the sync time on the VCS system and flushes the driver.
func (s *Store) Finalize(ctx context.Context) error {
	s.system.LastUpdated = s.now
	if err := s.putJSON(ctx, bucketSystems, s.system.URL, s.system); err != nil {
		return err
	}
	if err := s.driver.Sync(ctx); err != nil {
		return fmt.Errorf("flush store: %w", err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, bucket, key string, v any) error {
	data, err := s.driver.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return s.driver.Put(ctx, bucket, key, data)
}

// createOrFetch stores doc under key unless a document exists, and returns
// the stored document either way.
func createOrFetch[T any](ctx context.Context, d Driver, bucket, key string, doc *T) (*T, bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	stored, created, err := d.PutIfAbsent(ctx, bucket, key, data)
	if err != nil {
		return nil, false, err
	}
	if created {
		return doc, true, nil
	}
	var out T
	if err := json.Unmarshal(stored, &out); err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return &out, false, nil
}

func fileActionKey(commitID, parent, fileID string) string {
	return commitID + "/" + parent + "/" + fileID
}

func hunkKey(fileActionKey string, i int) string {
	return fmt.Sprintf("%s#%06d", fileActionKey, i)
}
