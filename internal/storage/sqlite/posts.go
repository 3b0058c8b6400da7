package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
)

func listPosts(ctx context.Context, q querier, groupID string) ([]models.Post, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, poster_id, title, body, created_at
		 FROM posts WHERE group_id = ? ORDER BY created_at DESC, rowid DESC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts by group: %w", err)
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		var post models.Post
		if err := rows.Scan(&post.ID, &post.PosterID, &post.Title, &post.Body, &post.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}
	return posts, nil
}

// InsertPost persists a new post on a group's board.
func (s *SQLiteStore) InsertPost(ctx context.Context, groupID string, post *models.Post) error {
	// Generate ID if not set
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.CreatedAt == 0 {
		post.CreatedAt = s.now().Unix()
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		if err := touchGroup(ctx, tx, groupID, post.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posts (id, group_id, poster_id, title, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			post.ID, groupID, post.PosterID, post.Title, post.Body, post.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert post: %w", err)
		}
		return nil
	})
}

// DeletePost removes a post by ID and returns it.
func (s *SQLiteStore) DeletePost(ctx context.Context, groupID, postID string) (*models.Post, error) {
	post := &models.Post{}
	err := s.write(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id, poster_id, title, body, created_at FROM posts WHERE group_id = ? AND id = ?`,
			groupID, postID,
		).Scan(&post.ID, &post.PosterID, &post.Title, &post.Body, &post.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("post", postID)
		}
		if err != nil {
			return fmt.Errorf("failed to check post existence: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", postID); err != nil {
			return fmt.Errorf("failed to delete post: %w", err)
		}
		return touchGroup(ctx, tx, groupID, s.now().Unix())
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}
