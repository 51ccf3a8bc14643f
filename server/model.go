package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jmorganca/ngram/envconfig"
)

var (
	ErrModelNotFound    = errors.New("model not found")
	ErrInvalidModelName = errors.New("invalid model name")
)

// modelExtensions are tried in order when resolving a model name.
var modelExtensions = []string{".nglm", ".arpa", ".arpa.gz", ".arpa.zst", ".arpa.lz4", ".arpa.bz2"}

// Model is a model file inside the models directory.
type Model struct {
	Name       string
	Path       string
	Size       int64
	ModifiedAt time.Time
}

func modelName(rel string) (string, bool) {
	rel = filepath.ToSlash(rel)
	// longest extension first so .arpa.gz is not cut to .gz
	exts := slices.Clone(modelExtensions)
	slices.SortFunc(exts, func(a, b string) int { return len(b) - len(a) })
	for _, ext := range exts {
		if name, ok := strings.CutSuffix(rel, ext); ok && name != "" {
			return name, true
		}
	}

	return "", false
}

// GetModel resolves name to a model file inside the models directory.
// Names may include a known extension; otherwise each extension is tried.
func GetModel(name string) (*Model, error) {
	name = strings.TrimSpace(name)
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidModelName, name)
	}

	dir := envconfig.Models()
	candidates := []string{name}
	for _, ext := range modelExtensions {
		candidates = append(candidates, name+ext)
	}

	for _, c := range candidates {
		p := filepath.Join(dir, filepath.FromSlash(c))
		fi, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}

		if fi.IsDir() {
			continue
		}

		n, ok := modelName(c)
		if !ok {
			n = c
		}

		return &Model{Name: n, Path: p, Size: fi.Size(), ModifiedAt: fi.ModTime()}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
}

// ListModels walks the models directory. A missing directory holds no
// models.
func ListModels() ([]Model, error) {
	dir := envconfig.Models()
	var models []Model
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		name, ok := modelName(rel)
		if !ok {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		models = append(models, Model{Name: name, Path: p, Size: fi.Size(), ModifiedAt: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return models, nil
}
