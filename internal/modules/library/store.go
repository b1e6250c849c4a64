package library

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

// Track is one reference track in the fingerprint library.
type Track struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Fingerprint []byte    `json:"-"`
	Duration    float64   `json:"duration"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store manages the reference track library.
type Store struct {
	db     *database.Postgres
	logger *zap.Logger
}

// NewStore creates a library store.
func NewStore(db *database.Postgres, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// AddTrack inserts a reference track with its fingerprint.
func (s *Store) AddTrack(ctx context.Context, title string, fp []byte, duration float64) (*Track, error) {
	if title == "" {
		return nil, apperr.InvalidArgument("track title must not be empty")
	}
	if len(fp) == 0 {
		return nil, apperr.InvalidArgument("track fingerprint must not be empty")
	}

	track := &Track{
		ID:          uuid.New().String(),
		Title:       title,
		Fingerprint: fp,
		Duration:    duration,
		CreatedAt:   time.Now(),
	}

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO tracks (id, title, fingerprint, duration, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, track.ID, track.Title, track.Fingerprint, track.Duration, track.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert track: %w", err)
	}

	s.logger.Info("Track added to library",
		zap.String("track_id", track.ID),
		zap.String("title", track.Title),
		zap.Int("fingerprint_bytes", len(fp)),
	)
	return track, nil
}

// GetTrack retrieves a track by id.
func (s *Store) GetTrack(ctx context.Context, trackID string) (*Track, error) {
	var track Track
	err := s.db.Pool.QueryRow(ctx, `
		SELECT id, title, fingerprint, duration, created_at FROM tracks WHERE id = $1
	`, trackID).Scan(&track.ID, &track.Title, &track.Fingerprint, &track.Duration, &track.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("track %s", trackID)
	}
	if err != nil {
		return nil, err
	}
	return &track, nil
}

// ListTracks returns all tracks without their fingerprint payloads.
func (s *Store) ListTracks(ctx context.Context) ([]*Track, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, title, duration, created_at FROM tracks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []*Track
	for rows.Next() {
		var track Track
		if err := rows.Scan(&track.ID, &track.Title, &track.Duration, &track.CreatedAt); err != nil {
			return nil, err
		}
		tracks = append(tracks, &track)
	}
	return tracks, rows.Err()
}

// DeleteTrack removes a track from the library.
func (s *Store) DeleteTrack(ctx context.Context, trackID string) error {
	result, err := s.db.Pool.Exec(ctx, `DELETE FROM tracks WHERE id = $1`, trackID)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("track %s", trackID)
	}
	return nil
}

// Lookup returns library entries for the matching core. An empty or
// nil filter means the whole library. The returned slice is read-only
// to the scan workers.
func (s *Store) Lookup(ctx context.Context, trackIDs []string) ([]matching.LibraryEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(trackIDs) == 0 {
		rows, err = s.db.Pool.Query(ctx, `SELECT id, title, fingerprint FROM tracks`)
	} else {
		rows, err = s.db.Pool.Query(ctx, `SELECT id, title, fingerprint FROM tracks WHERE id = ANY($1)`, trackIDs)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []matching.LibraryEntry
	for rows.Next() {
		var entry matching.LibraryEntry
		if err := rows.Scan(&entry.TrackID, &entry.Title, &entry.Fingerprint); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
