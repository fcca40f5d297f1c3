package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"photorestore/internal/models"
)

const imageColumns = `
	id, user_id, job_id, original_url, edited_url, prompt, tags, hd, thumbnail_url, created_at
`

type ImageRepository struct {
	pool *pgxpool.Pool
}

func NewImageRepository(pool *pgxpool.Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

func (r *ImageRepository) Create(ctx context.Context, image models.SavedImage) error {
	const query = `
		INSERT INTO saved_images (
			id, user_id, job_id, original_url, edited_url, prompt, tags, hd, thumbnail_url, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`
	tags := image.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		image.ID,
		image.UserID,
		image.JobID,
		image.OriginalURL,
		image.EditedURL,
		image.Prompt,
		tags,
		image.HD,
		image.ThumbnailURL,
		image.CreatedAt,
	)
	return err
}

func (r *ImageRepository) GetByID(ctx context.Context, id string) (models.SavedImage, error) {
	query := `SELECT ` + imageColumns + ` FROM saved_images WHERE id = $1`
	image, err := scanImage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SavedImage{}, ErrImageNotFound
	}
	return image, err
}

func (r *ImageRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.SavedImage, error) {
	query := `
		SELECT ` + imageColumns + `
		FROM saved_images
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.SavedImage
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

func (r *ImageRepository) UpdateEditedURL(ctx context.Context, id string, editedURL string) error {
	const query = `UPDATE saved_images SET edited_url = $2 WHERE id = $1`
	cmd, err := r.pool.Exec(ctx, query, id, editedURL)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}

// Delete removes an image owned by userID. Foreign images are reported as not found.
func (r *ImageRepository) Delete(ctx context.Context, id string, userID string) error {
	const query = `DELETE FROM saved_images WHERE id = $1 AND user_id = $2`
	cmd, err := r.pool.Exec(ctx, query, id, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}

func scanImage(row pgx.Row) (models.SavedImage, error) {
	var image models.SavedImage
	err := row.Scan(
		&image.ID,
		&image.UserID,
		&image.JobID,
		&image.OriginalURL,
		&image.EditedURL,
		&image.Prompt,
		&image.Tags,
		&image.HD,
		&image.ThumbnailURL,
		&image.CreatedAt,
	)
	return image, err
}
