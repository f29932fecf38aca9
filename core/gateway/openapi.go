package gateway

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inactu/inactu-web/core/upstream"
)

const defaultOpenAPIPath = "openapi.yaml"

// openAPIDoc serves the YAML document at path. The file is re-read when its
// modification time changes and must parse as a YAML mapping with an
// openapi version key.
type openAPIDoc struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	data    []byte
}

func newOpenAPIDoc(path string) *openAPIDoc {
	if path == "" {
		path = defaultOpenAPIPath
	}
	return &openAPIDoc{path: path}
}

func (d *openAPIDoc) load() ([]byte, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data != nil && info.ModTime().Equal(d.modTime) {
		return d.data, nil
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		OpenAPI string `yaml:"openapi"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", d.path, err)
	}
	if doc.OpenAPI == "" {
		return nil, fmt.Errorf("%s: missing openapi version", d.path)
	}
	d.data, d.modTime = data, info.ModTime()
	return data, nil
}

func (s *server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	data, err := s.openapi.load()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, upstream.ErrorBody{
			Error:   "Unable to load OpenAPI spec",
			Details: err.Error(),
		})
		return
	}
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}
