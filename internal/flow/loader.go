package flow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
)

// DefaultFlowName is the file consulted when a session has no file of its own.
const DefaultFlowName = "default"

var flowExts = []string{".yaml", ".yml", ".json5", ".json"}

// FileLoader reads flows declared on disk as <dir>/<session>.<ext>, falling
// back to <dir>/default.<ext>.
type FileLoader struct {
	dir string
}

func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

func (l *FileLoader) Dir() string { return l.dir }

// Load returns domain.ErrFlowNotFound when neither the session file nor the
// default file exists.
func (l *FileLoader) Load(sessionID string) (*model.FlowConfig, error) {
	if l == nil || l.dir == "" {
		return nil, domain.ErrFlowNotFound
	}
	names := []string{DefaultFlowName}
	if safe := safeName(sessionID); safe != "" && safe != DefaultFlowName {
		names = []string{safe, DefaultFlowName}
	}
	for _, name := range names {
		for _, ext := range flowExts {
			path := filepath.Join(l.dir, name+ext)
			b, err := os.ReadFile(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read flow %s: %w", path, err)
			}
			cfg, err := ParseFlow(b, ext)
			if err != nil {
				return nil, fmt.Errorf("flow %s: %w", path, err)
			}
			return cfg, nil
		}
	}
	return nil, domain.ErrFlowNotFound
}

// ParseFlow decodes and validates a flow document. ext selects the format:
// .json5/.json use JSON5, anything else YAML.
func ParseFlow(b []byte, ext string) (*model.FlowConfig, error) {
	var cfg model.FlowConfig
	var err error
	switch strings.ToLower(ext) {
	case ".json5", ".json":
		err = json5.Unmarshal(b, &cfg)
	default:
		err = yaml.Unmarshal(b, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFlow, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// safeName keeps session ids from escaping the flow directory.
func safeName(sessionID string) string {
	s := strings.TrimSpace(sessionID)
	if s == "" || strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return ""
	}
	return s
}

// sessionFromPath maps a flow file back to its session id.
func sessionFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	for _, e := range flowExts {
		if strings.EqualFold(ext, e) {
			return strings.TrimSuffix(base, ext), true
		}
	}
	return "", false
}
