package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hatemosphere/cms-portal/internal/storage"
)

// TagInput is the editable part of a tag.
type TagInput struct {
	Name string
	Slug string // derived from Name when empty
}

func (in TagInput) normalize() (name, slug string, err error) {
	name = strings.TrimSpace(in.Name)
	slug = strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if name == "" {
		return "", "", invalid("name is required")
	}
	if slug == "" {
		return "", "", invalid("slug is required")
	}
	return name, slug, nil
}

// ListTags returns every tag ordered by name.
func (s *Service) ListTags(ctx context.Context) ([]storage.Tag, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

// CreateTag adds a tag. A duplicate name or slug is a conflict.
func (s *Service) CreateTag(ctx context.Context, in TagInput) (*storage.Tag, error) {
	name, slug, err := in.normalize()
	if err != nil {
		return nil, err
	}
	t := &storage.Tag{ID: uuid.NewString(), Name: name, Slug: slug, CreatedAt: s.now()}
	if err := s.store.CreateTag(ctx, t); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, conflict("a tag with this name or slug already exists")
		}
		return nil, fmt.Errorf("create tag: %w", err)
	}
	return t, nil
}

// UpdateTag renames a tag.
func (s *Service) UpdateTag(ctx context.Context, id string, in TagInput) (*storage.Tag, error) {
	name, slug, err := in.normalize()
	if err != nil {
		return nil, err
	}
	t := &storage.Tag{ID: id, Name: name, Slug: slug}
	switch err := s.store.UpdateTag(ctx, t); {
	case errors.Is(err, storage.ErrConflict):
		return nil, conflict("a tag with this name or slug already exists")
	case errors.Is(err, storage.ErrNotFound):
		return nil, notFound("tag not found")
	case err != nil:
		return nil, fmt.Errorf("update tag: %w", err)
	}
	updated, err := s.store.GetTag(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload tag: %w", err)
	}
	if updated == nil {
		return nil, notFound("tag not found")
	}
	return updated, nil
}

// DeleteTag removes a tag and its post links.
func (s *Service) DeleteTag(ctx context.Context, id string) error {
	switch err := s.store.DeleteTag(ctx, id); {
	case errors.Is(err, storage.ErrNotFound):
		return notFound("tag not found")
	case err != nil:
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}
