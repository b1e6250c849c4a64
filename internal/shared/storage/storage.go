package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/soundtrace/backend/internal/shared/config"
)

// Zone represents a work area zone
type Zone string

const (
	ZoneUpload    Zone = "upload"    // source videos
	ZoneAudio     Zone = "audio"     // extracted audio tracks
	ZoneSeparated Zone = "separated" // stem outputs
	ZonePreview   Zone = "preview"   // preview renders and thumbnails
	ZoneExport    Zone = "export"    // final cut outputs
	ZoneWorking   Zone = "working"   // scratch space (window slices, segment parts)
)

var zones = []Zone{ZoneUpload, ZoneAudio, ZoneSeparated, ZonePreview, ZoneExport, ZoneWorking}

// FileInfo represents metadata about a stored file
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Zone      Zone      `json:"zone"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Service provides file operations over the local work area
type Service struct {
	basePath string
}

// NewService creates the work area directories and returns a service
func NewService(cfg config.StorageConfig) (*Service, error) {
	for _, zone := range zones {
		path := filepath.Join(cfg.BasePath, string(zone))
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return &Service{basePath: cfg.BasePath}, nil
}

// Store saves a file to the specified zone under a fresh id
func (s *Service) Store(ctx context.Context, zone Zone, originalName string, reader io.Reader) (*FileInfo, error) {
	fileID := uuid.New().String()
	ext := filepath.Ext(originalName)
	path := s.GetPath(zone, fileID+ext)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, reader)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	return &FileInfo{
		ID:        fileID,
		Name:      originalName,
		Path:      path,
		Zone:      zone,
		Size:      size,
		CreatedAt: time.Now(),
	}, nil
}

// Retrieve gets a file from the work area
func (s *Service) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Delete removes a file from the work area
func (s *Service) Delete(ctx context.Context, path string) error {
	return os.Remove(path)
}

// Exists checks if a file exists
func (s *Service) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// GetPath returns the full path for a file in a zone
func (s *Service) GetPath(zone Zone, filename string) string {
	return filepath.Join(s.basePath, string(zone), filename)
}

// ZoneDir returns the directory of a zone
func (s *Service) ZoneDir(zone Zone) string {
	return filepath.Join(s.basePath, string(zone))
}

// CleanZone removes files in a zone older than the cutoff and reports
// how many were deleted
func (s *Service) CleanZone(ctx context.Context, zone Zone, olderThan time.Time) (int, error) {
	dir := s.ZoneDir(zone)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(olderThan) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// ZoneUsage reports file count and total bytes in a zone
func (s *Service) ZoneUsage(ctx context.Context, zone Zone) (int64, int64, error) {
	dir := s.ZoneDir(zone)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	var count, bytes int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		bytes += info.Size()
	}
	return count, bytes, nil
}
