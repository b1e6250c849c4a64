package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/soundtrace/backend/internal/modules/matching"
	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/database"
	"go.uber.org/zap"
)

// Project is one video under analysis.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	VideoPath string    `json:"videoPath"`
	AudioPath string    `json:"audioPath,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store manages projects and their detected segments.
type Store struct {
	db     *database.Postgres
	logger *zap.Logger
}

// NewStore creates a project store.
func NewStore(db *database.Postgres, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Create inserts a new project for a video file.
func (s *Store) Create(ctx context.Context, name, videoPath string) (*Project, error) {
	if videoPath == "" {
		return nil, apperr.InvalidArgument("video path must not be empty")
	}

	project := &Project{
		ID:        uuid.New().String(),
		Name:      name,
		VideoPath: videoPath,
		CreatedAt: time.Now(),
	}

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO projects (id, name, video_path, created_at)
		VALUES ($1, $2, $3, $4)
	`, project.ID, project.Name, project.VideoPath, project.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}

	s.logger.Info("Project created",
		zap.String("project_id", project.ID),
		zap.String("video", project.VideoPath),
	)
	return project, nil
}

// Get retrieves a project by id.
func (s *Store) Get(ctx context.Context, projectID string) (*Project, error) {
	var (
		project   Project
		audioPath *string
		duration  *float64
	)
	err := s.db.Pool.QueryRow(ctx, `
		SELECT id, name, video_path, audio_path, duration, created_at
		FROM projects WHERE id = $1
	`, projectID).Scan(&project.ID, &project.Name, &project.VideoPath, &audioPath, &duration, &project.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("project %s", projectID)
	}
	if err != nil {
		return nil, err
	}
	if audioPath != nil {
		project.AudioPath = *audioPath
	}
	if duration != nil {
		project.Duration = *duration
	}
	return &project, nil
}

// List returns all projects, newest first.
func (s *Store) List(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, name, video_path, audio_path, duration, created_at
		FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Project
	for rows.Next() {
		var (
			project   Project
			audioPath *string
			duration  *float64
		)
		if err := rows.Scan(&project.ID, &project.Name, &project.VideoPath, &audioPath, &duration, &project.CreatedAt); err != nil {
			return nil, err
		}
		if audioPath != nil {
			project.AudioPath = *audioPath
		}
		if duration != nil {
			project.Duration = *duration
		}
		list = append(list, &project)
	}
	return list, rows.Err()
}

// SetAudio records the extracted audio track for a project.
func (s *Store) SetAudio(ctx context.Context, projectID, audioPath string, duration float64) error {
	result, err := s.db.Pool.Exec(ctx, `
		UPDATE projects SET audio_path = $1, duration = $2 WHERE id = $3
	`, audioPath, duration, projectID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("project %s", projectID)
	}
	return nil
}

// Delete removes a project and its segments.
func (s *Store) Delete(ctx context.Context, projectID string) error {
	result, err := s.db.Pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("project %s", projectID)
	}
	return nil
}

// ReplaceSegments atomically swaps the stored segments of a project
// for a fresh scan result: prior segments are cleared and the new set
// inserted in one transaction.
func (s *Store) ReplaceSegments(ctx context.Context, projectID string, segments []matching.Segment) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("failed to clear segments: %w", err)
	}

	for _, seg := range segments {
		_, err := tx.Exec(ctx, `
			INSERT INTO segments (id, project_id, track_id, title, start_time, end_time, confidence, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, seg.ID, projectID, nullString(seg.TrackID), nullString(seg.Title),
			seg.StartTime, seg.EndTime, seg.Confidence, seg.Status)
		if err != nil {
			return fmt.Errorf("failed to insert segment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit segments: %w", err)
	}

	s.logger.Info("Segments replaced",
		zap.String("project_id", projectID),
		zap.Int("count", len(segments)),
	)
	return nil
}

// ListSegments returns a project's segments in time order.
func (s *Store) ListSegments(ctx context.Context, projectID string) ([]matching.Segment, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, project_id, track_id, title, start_time, end_time, confidence, status
		FROM segments WHERE project_id = $1 ORDER BY start_time
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []matching.Segment
	for rows.Next() {
		var (
			seg     matching.Segment
			trackID *string
			title   *string
		)
		if err := rows.Scan(&seg.ID, &seg.ProjectID, &trackID, &title,
			&seg.StartTime, &seg.EndTime, &seg.Confidence, &seg.Status); err != nil {
			return nil, err
		}
		if trackID != nil {
			seg.TrackID = *trackID
		}
		if title != nil {
			seg.Title = *title
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// UpdateSegmentStatus flips one segment between detected and removed.
func (s *Store) UpdateSegmentStatus(ctx context.Context, segmentID, status string) error {
	if status != matching.SegmentDetected && status != matching.SegmentRemoved {
		return apperr.InvalidArgument("unknown segment status %q", status)
	}
	result, err := s.db.Pool.Exec(ctx, `
		UPDATE segments SET status = $1 WHERE id = $2
	`, status, segmentID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("segment %s", segmentID)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
