package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Tag is the filename prefix that classifies a snapshot. Only ordinary
// snapshots are candidates for recovery; the other tags mark one-off
// forensic copies.
type Tag string

const (
	TagOrdinary    Tag = "conversation-"
	TagPreClear    Tag = "preclear-"
	TagQuota       Tag = "quota-exceeded-"
	TagFinalReport Tag = "session-report-"
)

// SnapshotStore persists timestamped copies of a conversation.
type SnapshotStore interface {
	// SaveSnapshot writes a new immutable snapshot under the tag.
	SaveSnapshot(ctx context.Context, conv *Conversation, tag Tag) error

	// LoadLatest returns the newest ordinary snapshot, or a fresh
	// single-system-message conversation when none is usable. The
	// first message is always force-replaced with systemPrompt.
	LoadLatest(ctx context.Context, systemPrompt string) *Conversation

	// Close releases backend resources.
	Close() error
}

// FileStore implements SnapshotStore on a flat directory of JSON
// files named {tag}{unix-millis}.json.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed snapshot store. The directory is
// created lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the snapshot directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// SaveSnapshot writes a new snapshot file. Every (tag, timestamp) pair
// is a distinct file; nothing is ever overwritten.
func (s *FileStore) SaveSnapshot(ctx context.Context, conv *Conversation, tag Tag) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	millis := time.Now().UnixMilli()
	path := filepath.Join(s.dir, snapshotName(tag, millis))
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		millis++
		path = filepath.Join(s.dir, snapshotName(tag, millis))
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return nil
}

// LoadLatest lists ordinary snapshots, newest by modification time
// first, and deserializes the newest one. Any failure falls back to a
// fresh conversation.
func (s *FileStore) LoadLatest(ctx context.Context, systemPrompt string) *Conversation {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return New(systemPrompt)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, string(TagOrdinary)) || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path:    filepath.Join(s.dir, name),
			modTime: info.ModTime(),
		})
	}

	if len(candidates) == 0 {
		return New(systemPrompt)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	data, err := os.ReadFile(candidates[0].path)
	if err != nil {
		log.Printf("read snapshot %s: %v", candidates[0].path, err)
		return New(systemPrompt)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		log.Printf("parse snapshot %s: %v", candidates[0].path, err)
		return New(systemPrompt)
	}

	conv.ForceSystemPrompt(systemPrompt)
	return &conv
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func snapshotName(tag Tag, millis int64) string {
	return string(tag) + strconv.FormatInt(millis, 10) + ".json"
}
