package materialize

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// List returns the generation folders under dataDir, newest first. A missing
// folder yields an empty list.
func List(dataDir string) ([]GenerationRecord, error) {
	root := filepath.Join(dataDir, GenerationDir)
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("materialize: read %s: %w", root, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	// The timestamp token sorts lexicographically by creation time.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	out := make([]GenerationRecord, 0, len(names))
	for _, name := range names {
		rec, err := readRecord(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func readRecord(dir string) (GenerationRecord, error) {
	rec := GenerationRecord{Timestamp: filepath.Base(dir), Directory: dir}

	images, err := filepath.Glob(filepath.Join(dir, "image-*"))
	if err != nil {
		return rec, fmt.Errorf("materialize: list images: %w", err)
	}
	sort.Slice(images, func(i, j int) bool { return imageIndex(images[i]) < imageIndex(images[j]) })
	rec.ArtifactPaths = images

	if data, err := os.ReadFile(filepath.Join(dir, paramsFile)); err == nil {
		_ = json.Unmarshal(data, &rec.Params)
	}
	if data, err := os.ReadFile(filepath.Join(dir, responseFile)); err == nil {
		var stored struct {
			Response json.RawMessage `json:"response"`
		}
		if json.Unmarshal(data, &stored) == nil {
			rec.RawResponse = stored.Response
			var meta struct {
				Model string `json:"model"`
			}
			if json.Unmarshal(stored.Response, &meta) == nil {
				rec.ModelID = meta.Model
			}
		}
	}
	return rec, nil
}

func imageIndex(p string) int {
	name := strings.TrimPrefix(filepath.Base(p), "image-")
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		name = name[:dot]
	}
	n, err := strconv.Atoi(name)
	if err != nil {
		return -1
	}
	return n
}
