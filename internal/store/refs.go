package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kilupskalvis/vcsmine/internal/models"
)

// CreateTag create-or-fetches a tag by target commit and name. It returns the
// stored tag and whether this call created it.
func (s *Store) CreateTag(ctx context.Context, tag *models.TagRecord) (*models.TagRecord, bool, error) {
	doc := *tag
	doc.ID = uuid.NewString()
	doc.StoredAt = s.now
	doc.DeletedAt = nil
	doc.PreviousStates = nil
	if tag.Tagger != nil {
		id, err := s.personID(ctx, *tag.Tagger)
		if err != nil {
			return nil, false, err
		}
		doc.TaggerID = id
	}

	stored, created, err := createOrFetch(ctx, s.driver, s.bucket(bucketTags), tag.Key(), &doc)
	if err != nil {
		return nil, false, fmt.Errorf("tag %s: %w", tag.Name, err)
	}
	if created {
		s.logger.Debug("tag stored", "tag", tag.Name, "commit", tag.CommitID)
	}
	return stored, created, nil
}

// ListTags returns every stored tag of the repository, deleted ones included.
func (s *Store) ListTags(ctx context.Context) ([]*models.TagRecord, error) {
	var tags []*models.TagRecord
	err := s.driver.Scan(ctx, s.bucket(bucketTags), "", func(key string, value []byte) error {
		var tag models.TagRecord
		if err := json.Unmarshal(value, &tag); err != nil {
			return fmt.Errorf("decode tag %s: %w", key, err)
		}
		tags = append(tags, &tag)
		return nil
	})
	return tags, err
}

// PutTag replaces a stored tag.
func (s *Store) PutTag(ctx context.Context, tag *models.TagRecord) error {
	return s.putJSON(ctx, s.bucket(bucketTags), tag.Key(), tag)
}

// AddBranch stores a branch tip and clears a previous deletion. The target
// commit must already be stored. Resubmitting an unchanged tip writes nothing.
func (s *Store) AddBranch(ctx context.Context, tip models.BranchTip) error {
	if _, err := s.commitDoc(ctx, tip.Target); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("branch %s: target commit %s is not stored", tip.Name, tip.Target)
		}
		return err
	}

	bucket := s.bucket(bucketBranches)
	var stored models.BranchTip
	err := s.getJSON(ctx, bucket, tip.Name, &stored)
	switch {
	case err == nil:
		if stored.DeletedAt == nil && stored.Target == tip.Target && stored.IsOriginHead == tip.IsOriginHead {
			return nil
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	tip.DeletedAt = nil
	tip.UpdatedAt = s.now
	s.metrics.BranchTip()
	return s.putJSON(ctx, bucket, tip.Name, &tip)
}

// ListBranches returns every stored branch tip, deleted ones included.
func (s *Store) ListBranches(ctx context.Context) ([]*models.BranchTip, error) {
	var tips []*models.BranchTip
	err := s.driver.Scan(ctx, s.bucket(bucketBranches), "", func(key string, value []byte) error {
		var tip models.BranchTip
		if err := json.Unmarshal(value, &tip); err != nil {
			return fmt.Errorf("decode branch %s: %w", key, err)
		}
		tips = append(tips, &tip)
		return nil
	})
	return tips, err
}

// PutBranch replaces a stored branch tip.
func (s *Store) PutBranch(ctx context.Context, tip *models.BranchTip) error {
	return s.putJSON(ctx, s.bucket(bucketBranches), tip.Name, tip)
}
