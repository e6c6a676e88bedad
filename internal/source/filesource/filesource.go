// Package filesource is a reference connector for file-store sources (a
// mounted directory standing in for a Drive-style API), grounded on the
// original platform's google_drive.py / sqlite.py sources. Each file is
// emitted once as a whole-file entity kind "file"; the filechunker
// transformer splits it into chunk entities downstream.
package filesource

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/source"
	"github.com/syncforge/core/internal/synccore"
)

// FileKind is the entity kind emitted for whole files.
const FileKind = "file"

// Config configures a Source.
type Config struct {
	// FS is the filesystem to walk. Tests pass an fstest.MapFS or similar;
	// production wiring passes os.DirFS(root).
	FS fs.FS
	// Root is recorded in breadcrumbs. It is not part of the entity ID,
	// which is the file's slash-separated path within FS.
	Root string
}

// Source implements source.Connector over an fs.FS tree. Its cursor is the
// last successfully emitted path, letting a resumed Produce call skip
// already-emitted files after a cancellation.
type Source struct {
	cfg Config
}

// New constructs a Source over cfg.FS.
func New(cfg Config) *Source {
	return &Source{cfg: cfg}
}

// Produce walks the filesystem in lexical order, emitting one FileKind
// entity per regular file whose path sorts after cursor.
func (s *Source) Produce(ctx context.Context, cursor source.Cursor, emit source.EmitFunc) (source.Cursor, error) {
	resumeAfter := string(cursor)
	var lastEmitted string

	walkErr := fs.WalkDir(s.cfg.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &synccore.SourceTransientError{Cause: err}
		}
		if d.IsDir() {
			return nil
		}
		if resumeAfter != "" && path <= resumeAfter {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		content, err := fs.ReadFile(s.cfg.FS, path)
		if err != nil {
			return &synccore.SourceTransientError{Cause: err}
		}

		info, err := d.Info()
		if err != nil {
			return &synccore.SourceTransientError{Cause: err}
		}

		e := entity.Entity{
			EntityID: filepath.ToSlash(path),
			Kind:     FileKind,
			Payload: map[string]any{
				"path":    filepath.ToSlash(path),
				"content": string(content),
				"size":    float64(info.Size()),
			},
			EmbeddableText: string(content),
			Breadcrumbs: []entity.Breadcrumb{
				{ID: s.cfg.Root, Name: s.cfg.Root, Kind: "root"},
			},
			FetchedAt: time.Now(),
		}

		if emitErr := emit(ctx, e); emitErr != nil {
			return emitErr
		}
		lastEmitted = path
		return nil
	})

	if lastEmitted == "" {
		lastEmitted = resumeAfter
	}

	if walkErr != nil {
		return source.Cursor(lastEmitted), walkErr
	}
	return source.Cursor(lastEmitted), nil
}

// Validate confirms the configured filesystem root is reachable.
func (s *Source) Validate(ctx context.Context, config map[string]any, auth map[string]any) error {
	_, err := fs.Stat(s.cfg.FS, ".")
	if err != nil {
		return &synccore.SourceFatalError{Cause: err}
	}
	return nil
}
