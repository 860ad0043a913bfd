package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
)

var (
	ErrNotFound           = errors.New("post not found")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrPublishedImmutable = errors.New("published posts cannot be deleted")
)

// Legal status transitions. A status may re-enter itself where re-saving is
// idempotent (published text edits, re-scheduling).
var allowedTransitions = map[models.PostStatus][]models.PostStatus{
	models.StatusDraft:     {models.StatusScheduled, models.StatusPublished, models.StatusFailed},
	models.StatusScheduled: {models.StatusScheduled, models.StatusDraft, models.StatusPublished, models.StatusFailed},
	models.StatusPublished: {models.StatusPublished},
	models.StatusFailed:    {models.StatusDraft},
}

func transitionAllowed(from, to models.PostStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Store is the single source of truth for posts and the only component that
// mutates post status.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreatePost persists a post together with its media and buttons in one
// transaction; a concurrent reader never observes a partial graph. Media
// positions are renumbered to match array order.
func (s *Store) CreatePost(ctx context.Context, post *models.Post) error {
	if post.Status == "" {
		post.Status = models.StatusDraft
	}
	for i := range post.Media {
		post.Media[i].Position = i
	}

	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}

	s.logger.Info("Post created",
		zap.Uint("post_id", post.ID),
		zap.Int64("author_id", post.AuthorID),
		zap.Int("media", len(post.Media)),
		zap.Int("buttons", len(post.Buttons)))
	return nil
}

// GetPost loads a post with its media (by position) and buttons (by row,
// position).
func (s *Store) GetPost(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).
		Preload("Media", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Buttons", func(db *gorm.DB) *gorm.DB { return db.Order(`"row" ASC, position ASC`) }).
		First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %d: %w", id, err)
	}
	return &post, nil
}

// ListByAuthor returns one author's posts, newest first. An empty status
// matches all statuses.
func (s *Store) ListByAuthor(ctx context.Context, authorID int64, status models.PostStatus, limit, offset int) ([]models.Post, error) {
	q := s.db.WithContext(ctx).Where("author_id = ?", authorID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var posts []models.Post
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// ListAll returns posts from every author, newest first.
func (s *Store) ListAll(ctx context.Context, status models.PostStatus, limit, offset int) ([]models.Post, error) {
	q := s.db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var posts []models.Post
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// ListScheduled returns every scheduled post ordered by scheduled time.
// Used by restart recovery to rebuild the timer table.
func (s *Store) ListScheduled(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusScheduled).
		Order("scheduled_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled posts: %w", err)
	}
	return posts, nil
}

// ListDue returns scheduled posts whose instant has passed, earliest first.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.StatusScheduled, now).
		Order("scheduled_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due posts: %w", err)
	}
	return posts, nil
}

// CountByStatus returns post counts per status.
func (s *Store) CountByStatus(ctx context.Context) (map[models.PostStatus]int64, error) {
	var rows []struct {
		Status models.PostStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Post{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	counts := make(map[models.PostStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// UpdateText replaces the text and entity spans of a draft or published post.
// Re-saving identical content is a no-op by effect.
func (s *Store) UpdateText(ctx context.Context, id uint, text string, entities []models.TextEntity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := getPost(tx, id)
		if err != nil {
			return err
		}
		if post.Status != models.StatusDraft && post.Status != models.StatusPublished {
			return ErrInvalidTransition
		}

		return tx.Model(post).Updates(map[string]interface{}{
			"text":     text,
			"entities": models.EntityList(entities),
		}).Error
	})
}

// ReplaceButtons swaps the full button set of a post atomically.
func (s *Store) ReplaceButtons(ctx context.Context, id uint, buttons []models.Button) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := getPost(tx, id)
		if err != nil {
			return err
		}
		if post.Status != models.StatusDraft && post.Status != models.StatusPublished {
			return ErrInvalidTransition
		}

		if err := tx.Where("post_id = ?", id).Delete(&models.Button{}).Error; err != nil {
			return err
		}
		for i := range buttons {
			buttons[i].ID = 0
			buttons[i].PostID = id
		}
		if len(buttons) == 0 {
			return nil
		}
		return tx.Create(&buttons).Error
	})
}

// AddMedia appends media items to a draft, renumbering positions after the
// existing ones.
func (s *Store) AddMedia(ctx context.Context, id uint, items []models.Media) error {
	if len(items) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := getPost(tx, id)
		if err != nil {
			return err
		}
		if post.Status != models.StatusDraft {
			return ErrInvalidTransition
		}

		var count int64
		if err := tx.Model(&models.Media{}).Where("post_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = 0
			items[i].PostID = id
			items[i].Position = int(count) + i
		}
		return tx.Create(&items).Error
	})
}

// Schedule transitions a post to scheduled, recording the instant and the
// scheduler job handle together.
func (s *Store) Schedule(ctx context.Context, id uint, at time.Time, jobID string) error {
	return s.transition(ctx, id, models.StatusScheduled, map[string]interface{}{
		"scheduled_at":     at,
		"scheduler_job_id": jobID,
	})
}

// Unschedule reverts a scheduled post to draft, clearing the instant and job
// handle atomically with the status change.
func (s *Store) Unschedule(ctx context.Context, id uint) error {
	return s.transition(ctx, id, models.StatusDraft, map[string]interface{}{
		"scheduled_at":     nil,
		"scheduler_job_id": "",
	})
}

// MarkPublished records the channel message id and flips the post to
// published. Scheduling fields are cleared so no dangling job handle remains.
func (s *Store) MarkPublished(ctx context.Context, id uint, messageID int, at time.Time) error {
	return s.transition(ctx, id, models.StatusPublished, map[string]interface{}{
		"published_message_id": messageID,
		"published_at":         at,
		"scheduled_at":         nil,
		"scheduler_job_id":     "",
	})
}

// MarkFailed flips the post to failed. Manual retry goes through ResetToDraft.
func (s *Store) MarkFailed(ctx context.Context, id uint) error {
	return s.transition(ctx, id, models.StatusFailed, map[string]interface{}{
		"scheduled_at":     nil,
		"scheduler_job_id": "",
	})
}

// ResetToDraft returns a failed post to draft for a manual retry.
func (s *Store) ResetToDraft(ctx context.Context, id uint) error {
	return s.transition(ctx, id, models.StatusDraft, nil)
}

func (s *Store) transition(ctx context.Context, id uint, to models.PostStatus, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := getPost(tx, id)
		if err != nil {
			return err
		}
		if !transitionAllowed(post.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, post.Status, to)
		}

		if updates == nil {
			updates = map[string]interface{}{}
		}
		updates["status"] = to

		// Compare-and-swap on the observed status: a concurrent transition
		// that got there first makes this one a no-op instead of overwriting.
		res := tx.Model(&models.Post{}).
			Where("id = ? AND status = ?", id, post.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: post %d changed concurrently", ErrInvalidTransition, id)
		}

		s.logger.Info("Post status changed",
			zap.Uint("post_id", id),
			zap.String("from", string(post.Status)),
			zap.String("to", string(to)))
		return nil
	})
}

// DeletePost removes a post and cascades to its media and buttons. Published
// posts are the system of record and cannot be deleted.
func (s *Store) DeletePost(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := getPost(tx, id)
		if err != nil {
			return err
		}
		if post.Status == models.StatusPublished {
			return ErrPublishedImmutable
		}

		if err := tx.Where("post_id = ?", id).Delete(&models.Media{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.Button{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Post{}, id).Error; err != nil {
			return err
		}

		s.logger.Info("Post deleted", zap.Uint("post_id", id))
		return nil
	})
}

// getPost reads the post inside the transaction. No row lock is taken; the
// status compare-and-swap in transition handles concurrent writers.
func getPost(tx *gorm.DB, id uint) (*models.Post, error) {
	var post models.Post
	err := tx.First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}
