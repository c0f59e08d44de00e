// Package config loads cairn settings from an embedded CUE schema, an
// optional project file and CAIRN_* environment variables, in that order of
// precedence from lowest to highest.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"go.uber.org/zap/zapcore"
)

//go:embed schema.cue
var schemaSrc string

// DefaultFile is the project file looked up when no path is given.
const DefaultFile = "cairn.cue"

// Environment overrides.
const (
	EnvCacheRoot = "CAIRN_CACHE_ROOT"
	EnvStorePath = "CAIRN_STORE_PATH"
	EnvLogLevel  = "CAIRN_LOG_LEVEL"
)

// Config is the resolved configuration.
type Config struct {
	CacheRoot  string `json:"cacheRoot"`
	StorePath  string `json:"storePath"`
	LogLevel   string `json:"logLevel"`
	Experiment string `json:"experiment"`
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// Error is a configuration problem, with the CUE position when known.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: config: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return "config: " + e.Message
}

// Default returns the schema defaults, ignoring any project file and the
// environment.
func Default() Config {
	cfg, err := resolve(nil, "")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load resolves the configuration. An empty path reads DefaultFile when it
// exists; an explicit path must exist.
func Load(path string) (Config, error) {
	file, err := readProjectFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := resolve(file, projectName(path))
	if err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	if _, err := cfg.Level(); err != nil {
		return Config{}, &Error{Message: err.Error()}
	}
	return cfg, nil
}

// resolve unifies file, if any, with the schema and decodes the result.
func resolve(file []byte, name string) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if file != nil {
		src := ctx.CompileBytes(file, cue.Filename(name))
		if err := src.Err(); err != nil {
			return Config{}, formatCUEError(err)
		}
		v = v.Unify(src)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	return cfg, nil
}

func projectName(path string) string {
	if path == "" {
		return DefaultFile
	}
	return path
}

func readProjectFile(path string) ([]byte, error) {
	data, err := os.ReadFile(projectName(path))
	if err == nil {
		return data, nil
	}
	if path == "" && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return nil, &Error{Message: err.Error()}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvCacheRoot); v != "" {
		cfg.CacheRoot = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	ce := &Error{Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
