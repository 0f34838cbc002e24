package provider

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Loader reads provider documents from per-type directories at startup.
// Each file in a directory holds one JSON provider document of that
// directory's type.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a provider loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

// LoadDir reads every provider document of the given type from dir. A
// missing or unset directory is skipped without error; entries that are not
// regular files are skipped with a warning. A file that fails to decode or
// validate fails the load, since a half-registered provider set is worse
// than a startup error.
func (l *Loader) LoadDir(typ Type, dir string) ([]Document, error) {
	if dir == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		l.logger.Debug("provider directory not found, skipping", "type", typ, "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider directory %s: %w", dir, err)
	}

	var docs []Document
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if !entry.Type().IsRegular() {
			l.logger.Warn("skipping non-file entry in provider directory", "type", typ, "path", path)
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read provider file %s: %w", path, err)
		}

		doc, err := NewDocument(typ, data)
		if err != nil {
			return nil, fmt.Errorf("provider file %s: %w", path, err)
		}

		l.logger.Debug("loaded provider document", "type", typ, "name", doc.Name, "file", path)
		docs = append(docs, doc)
	}

	if len(docs) > 0 {
		l.logger.Info("loaded providers from directory", "type", typ, "dir", dir, "count", len(docs))
	}
	return docs, nil
}

// LoadAll reads the directory configured for each provider type. Types map
// to directories; an empty directory value skips that type.
func (l *Loader) LoadAll(dirs map[Type]string) ([]Document, error) {
	var docs []Document
	for _, typ := range Types() {
		loaded, err := l.LoadDir(typ, dirs[typ])
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	return docs, nil
}
