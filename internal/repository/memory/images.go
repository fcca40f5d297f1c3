package memory

import (
	"context"
	"sort"
	"sync"

	"photorestore/internal/models"
	"photorestore/internal/repository"
)

type Images struct {
	mu     sync.Mutex
	images map[string]models.SavedImage
}

func NewImages() *Images {
	return &Images{images: make(map[string]models.SavedImage)}
}

func (s *Images) Create(_ context.Context, image models.SavedImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[image.ID] = image
	return nil
}

func (s *Images) GetByID(_ context.Context, id string) (models.SavedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	image, ok := s.images[id]
	if !ok {
		return models.SavedImage{}, repository.ErrImageNotFound
	}
	return image, nil
}

func (s *Images) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.SavedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SavedImage
	for _, image := range s.images {
		if image.UserID == userID {
			out = append(out, image)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Images) UpdateEditedURL(_ context.Context, id string, editedURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	image, ok := s.images[id]
	if !ok {
		return repository.ErrImageNotFound
	}
	image.EditedURL = editedURL
	s.images[id] = image
	return nil
}

func (s *Images) Delete(_ context.Context, id string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	image, ok := s.images[id]
	if !ok || image.UserID != userID {
		return repository.ErrImageNotFound
	}
	delete(s.images, id)
	return nil
}
