package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	logging "nft-sales-monitor/internal/infra/log"
)

const (
	PositionFileName = "last_position.txt"
	UpdateIDFileName = "last_update_id.txt"
)

// PositionFile persists a single counter as decimal text.
type PositionFile struct {
	path string
}

func NewPositionFile(path string) *PositionFile {
	return &PositionFile{path: path}
}

// Load returns 0 when the file is missing, empty or not a number.
func (f *PositionFile) Load(ctx context.Context) uint64 {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.LogWarn("Failed to read position file", zap.String("file", f.path), zap.Error(err))
		}
		return 0
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0
	}
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		logging.LogWarn("Position file is corrupt, treating as unset", zap.String("file", f.path), zap.String("content", text))
		return 0
	}
	return v
}

// Save writes through a temp file and rename so a crash never leaves a torn value.
func (f *PositionFile) Save(ctx context.Context, position uint64) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFilePath := f.path + ".tmp"
	if err := os.WriteFile(tempFilePath, []byte(strconv.FormatUint(position, 10)), 0644); err != nil {
		return fmt.Errorf("failed to write temporary position file: %w", err)
	}

	if err := os.Rename(tempFilePath, f.path); err != nil {
		os.Remove(tempFilePath)
		return fmt.Errorf("failed to rename temporary file to position file: %w", err)
	}

	logging.LogDebug("Saved position", zap.String("file", f.path), zap.Uint64("position", position))
	return nil
}
