package property

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"estateflow/apperr"
	"estateflow/db"
	"estateflow/metrics"
	"estateflow/role"
	"estateflow/storage"
)

var (
	ErrImageLimit    = apperr.New(apperr.KindBadRequest, fmt.Sprintf("property: at most %d images per listing", MaxImages))
	ErrNoImages      = apperr.New(apperr.KindBadRequest, "property: no images supplied")
	ErrImageNotFound = apperr.New(apperr.KindBadRequest, "property: image is not attached to this listing")
)

const (
	imageCategory     = "property"
	uploadConcurrency = 4
)

// AddImages uploads files and appends their URIs in input order. Either the
// whole batch is attached or none of it is.
func (s *Service) AddImages(ctx context.Context, actor role.Actor, id string, files []storage.File) ([]string, error) {
	p, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}
	if len(p.Images) >= MaxImages {
		metrics.CapRejected("images")
		return nil, fmt.Errorf("%w: listing already has %d", ErrImageLimit, len(p.Images))
	}
	if len(p.Images)+len(files) > MaxImages {
		metrics.CapRejected("images")
		return nil, fmt.Errorf("%w: adding %d to %d", ErrImageLimit, len(files), len(p.Images))
	}

	uris, err := s.upload(ctx, p.ID, files)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.AppendImages(ctx, id, uris); err != nil {
		// Lost a race with another append, or the listing vanished.
		if errors.Is(err, ErrImageLimit) {
			metrics.CapRejected("images")
		}
		s.discardFiles(context.WithoutCancel(ctx), p.ID, uris)
		return nil, err
	}
	metrics.Transition("property", "images_added")
	return uris, nil
}

// upload stores files concurrently. On failure the files that did make it
// are deleted again.
func (s *Service) upload(ctx context.Context, propertyID string, files []storage.File) ([]string, error) {
	uris := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, f := range files {
		g.Go(func() error {
			uri, err := s.uploader.Store(gctx, f, imageCategory)
			if err != nil {
				return err
			}
			uris[i] = uri
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		stored := make([]string, 0, len(uris))
		for _, uri := range uris {
			if uri != "" {
				stored = append(stored, uri)
			}
		}
		s.discardFiles(context.WithoutCancel(ctx), propertyID, stored)
		return nil, fmt.Errorf("property: upload images: %w", err)
	}
	return uris, nil
}

// RemoveImage detaches uri and then deletes the stored file best-effort.
func (s *Service) RemoveImage(ctx context.Context, actor role.Actor, id, uri string) (Property, error) {
	if _, err := s.loadManaged(ctx, actor, id); err != nil {
		return Property{}, err
	}
	p, err := s.repo.RemoveImage(ctx, id, uri)
	if err != nil {
		return Property{}, err
	}
	metrics.Transition("property", "image_removed")
	s.discardFiles(ctx, p.ID, []string{uri})
	return p, nil
}

// AppendImages attaches uris only while the total stays within MaxImages.
func (r *PGRepository) AppendImages(ctx context.Context, id string, uris []string) (Property, error) {
	const updateSQL = `
		UPDATE properties
		SET images = images || $2::text[], updated_at = now()
		WHERE id = $1 AND cardinality(images) + cardinality($2::text[]) <= $3
		RETURNING ` + propertyColumns

	p, err := scanProperty(r.pool.QueryRow(ctx, updateSQL, id, uris, MaxImages))
	if err == nil {
		return p, nil
	}
	if !db.IsNoRows(err) {
		return Property{}, fmt.Errorf("property: append images: %w", err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return Property{}, err
	}
	return Property{}, ErrImageLimit
}

func (r *PGRepository) RemoveImage(ctx context.Context, id, uri string) (Property, error) {
	const updateSQL = `
		UPDATE properties
		SET images = array_remove(images, $2), updated_at = now()
		WHERE id = $1 AND $2 = ANY(images)
		RETURNING ` + propertyColumns

	p, err := scanProperty(r.pool.QueryRow(ctx, updateSQL, id, uri))
	if err == nil {
		return p, nil
	}
	if !db.IsNoRows(err) {
		return Property{}, fmt.Errorf("property: remove image: %w", err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return Property{}, err
	}
	return Property{}, ErrImageNotFound
}
