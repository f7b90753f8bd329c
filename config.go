package aiocompl

import (
	"fmt"
	"os"

	"github.com/behrlich/go-aiocompl/internal/logging"
	"gopkg.in/yaml.v3"
)

// IoMgrKind selects the async I/O manager flavor (spec.md §6 "IoMgr").
type IoMgrKind string

const (
	IoMgrAsync  IoMgrKind = "Async"
	IoMgrSimple IoMgrKind = "Simple"
)

// FileBackendKind selects whether endpoints default to buffered or
// O_DIRECT file access (spec.md §6 "FileBackend").
type FileBackendKind string

const (
	FileBackendNonBuffered FileBackendKind = "NonBuffered"
	FileBackendBuffered    FileBackendKind = "Buffered"
)

// BwGroupConfig is one named bandwidth group (spec.md §6 "BwGroups/<name>").
type BwGroupConfig struct {
	Name  string `yaml:"name"`
	Max   int64  `yaml:"max"`
	Start int64  `yaml:"start"`
	Step  int64  `yaml:"step"`
}

// Config is the full set of keys spec.md §6 documents, consumed by
// NewSubsystem. Loadable from YAML via LoadConfig, matching how the
// rest of the example pack keeps YAML-tagged config structs.
type Config struct {
	IoMgr              IoMgrKind       `yaml:"io_mgr"`
	FileBackend        FileBackendKind `yaml:"file_backend"`
	AdvancedStatistics bool            `yaml:"advanced_statistics"`
	BwGroups           []BwGroupConfig `yaml:"bw_groups"`

	// RequestCacheCap bounds the per-endpoint free list of idle bounce
	// buffers (spec.md §4.C).
	RequestCacheCap int `yaml:"request_cache_cap"`

	// ActiveRequestsMax is the initial cRequestsActiveMax for a freshly
	// created Normal manager (spec.md §4.F).
	ActiveRequestsMax int `yaml:"active_requests_max"`

	// DebugSocketPath, when non-empty, makes Subsystem listen on a Unix
	// domain socket serving the injecterror/injectdelay commands
	// (spec.md §6 debug CLI; see §6.2 of the expanded design).
	DebugSocketPath string `yaml:"debug_socket_path"`

	// EnableDebugHooks gates error/delay injection independent of the
	// socket being enabled, so tests can drive injection in-process.
	EnableDebugHooks bool `yaml:"enable_debug_hooks"`

	Logging *logging.Config `yaml:"-"`
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		IoMgr:              IoMgrAsync,
		FileBackend:        FileBackendNonBuffered,
		AdvancedStatistics: false,
		RequestCacheCap:    DefaultRequestCacheCap,
		ActiveRequestsMax:  DefaultActiveRequestsMax,
	}
}

// LoadConfig reads a YAML config file, applying DefaultConfig defaults
// to any field the file doesn't set.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("aiocompl: reading config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("aiocompl: parsing config %s: %w", path, err)
	}
	return cfg, nil
}
