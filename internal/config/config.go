// Package config loads the node configuration file.
//
// The file is YAML. It is checked against an embedded CUE schema before it
// is decoded, so unknown keys, out-of-range numbers and malformed
// durations are rejected with the offending path.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Defaults applied by Load.
const (
	DefaultDatabase    = "stringpool.db"
	DefaultListen      = ":8080"
	DefaultCompression = "zstd"
	DefaultNamespace   = "stringpool"
)

// Config is the configuration of one node.
type Config struct {
	Node        string      `yaml:"node"`
	Domain      string      `yaml:"domain,omitempty"`
	Database    string      `yaml:"database,omitempty"`
	BlobDir     string      `yaml:"blob_dir,omitempty"`
	Compression string      `yaml:"compression,omitempty"`
	Hash        string      `yaml:"hash,omitempty"`
	Cluster     string      `yaml:"cluster,omitempty"`
	Listen      string      `yaml:"listen,omitempty"`
	Indexes     []Index     `yaml:"indexes,omitempty"`
	Peers       []Peer      `yaml:"peers,omitempty"`
	Redis       *Redis      `yaml:"redis,omitempty"`
	Replication Replication `yaml:"replication,omitempty"`
}

// Index declares a secondary attribute column.
type Index struct {
	Name          string `yaml:"name"`
	CaseSensitive bool   `yaml:"case_sensitive,omitempty"`
}

// Peer is a remote node to replicate from.
type Peer struct {
	Name     string   `yaml:"name"`
	URL      string   `yaml:"url"`
	Interval Duration `yaml:"interval,omitempty"`
}

// Redis configures the shared stats sink. Nil keeps counters in memory.
type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Replication tunes the replication engine. Zero values keep the engine
// defaults.
type Replication struct {
	BatchSize      int      `yaml:"batch_size,omitempty"`
	FeedCap        int      `yaml:"feed_cap,omitempty"`
	MaxRounds      int      `yaml:"max_rounds,omitempty"`
	Slack          Duration `yaml:"slack,omitempty"`
	Throttle       Duration `yaml:"throttle,omitempty"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
	Interval       Duration `yaml:"interval,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads, validates and decodes the file at path. Relative database
// and blob paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if !filepath.IsAbs(cfg.Database) {
		cfg.Database = filepath.Join(dir, cfg.Database)
	}
	if cfg.BlobDir != "" && !filepath.IsAbs(cfg.BlobDir) {
		cfg.BlobDir = filepath.Join(dir, cfg.BlobDir)
	}
	return cfg, nil
}

// Parse validates and decodes a YAML document and applies defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// validate checks the raw document against the #Config definition.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Messages: messages(err)}
	}
	return nil
}

func messages(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		out = append(out, e.Error())
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

// ValidationError lists the schema violations of a config document.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 1 {
		return "invalid configuration: " + e.Messages[0]
	}
	return fmt.Sprintf("invalid configuration: %s (and %d more)", e.Messages[0], len(e.Messages)-1)
}

func (c *Config) applyDefaults() {
	if c.Domain == "" {
		c.Domain = c.Node
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Compression == "" {
		c.Compression = DefaultCompression
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Redis != nil && c.Redis.Namespace == "" {
		c.Redis.Namespace = DefaultNamespace
	}
}

// check enforces the rules the schema cannot express.
func (c *Config) check() error {
	seen := make(map[string]bool)
	for _, p := range c.Peers {
		if p.Name == c.Node {
			return fmt.Errorf("peer %q has the node's own name", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate peer %q", p.Name)
		}
		seen[p.Name] = true
	}
	cols := make(map[string]bool)
	for _, ix := range c.Indexes {
		if cols[ix.Name] {
			return fmt.Errorf("duplicate index column %q", ix.Name)
		}
		cols[ix.Name] = true
	}
	return nil
}
