// Package metafile records what a backup run produced next to its today folder.
package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// MetaFileName is the name of the run record. The internal prefix keeps rework away from it.
const MetaFileName = ".pgl-dedup.meta.json"

// Entry is the per source summary of a run.
type Entry struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// MetafileContent holds the contents of the metadatafile.
type MetafileContent struct {
	Version       string    `json:"version"`
	TimestampUTC  time.Time `json:"timestampUTC"`
	Mode          string    `json:"mode"`
	HashAlgorithm string    `json:"hashAlgorithm"`
	Entries       []Entry   `json:"entries"`
	Files         int64     `json:"files"`
	Failures      int64     `json:"failures"`
	Duration      string    `json:"duration"`
	Complete      bool      `json:"complete"`
}

// Write creates the run record in dirPath, replacing any previous one.
func Write(dirPath string, content *MetafileContent) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	// The record is part of the backup data, so group members may rewrite it like the files around it.
	if err := os.WriteFile(metaFilePath, jsonData, util.UserGroupWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}
	return nil
}

// Read parses the run record in dirPath. A missing file is returned unwrapped
// so callers can test it with os.IsNotExist.
func Read(dirPath string) (MetafileContent, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		return MetafileContent{}, err
	}
	defer metaFile.Close()

	var content MetafileContent
	if err := json.NewDecoder(metaFile).Decode(&content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}
	return content, nil
}
