package config

import (
	"context"
	_ "embed"
	"path"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/objgit/errors"
)

//go:embed schema.cue
var schemaSource []byte

// Load reads and validates the configuration file at name in fsys.
//
// Returns CONFIG_LOAD_FAILED when the file cannot be read or parsed and
// INVALID_CONFIGURATION when it does not satisfy the schema.
func Load(ctx context.Context, fsys billy.Filesystem, name string) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigLoad, "context cancelled")
	}

	data, err := util.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeConfigLoad, "failed to read config file"),
			"file", name,
		)
	}

	cctx := cuecontext.New()
	var val cue.Value
	if isCUE(name) {
		val, err = loadInstance(cctx, name, data)
	} else {
		val, err = compile(cctx, name, data)
	}
	if err != nil {
		return nil, err
	}
	return decode(cctx, name, val)
}

// Parse is Load for configuration already in memory. The format is chosen
// by the extension of filename.
func Parse(ctx context.Context, data []byte, filename string) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigLoad, "context cancelled")
	}

	cctx := cuecontext.New()
	val, err := compile(cctx, filename, data)
	if err != nil {
		return nil, err
	}
	return decode(cctx, filename, val)
}

// Default returns the configuration an empty file produces.
func Default() *Config {
	cfg, err := Parse(context.Background(), nil, "default.cue")
	if err != nil {
		panic("config: embedded schema has no valid default: " + err.Error())
	}
	return cfg
}

// loadInstance builds a CUE file through the loader so package clauses and
// file positions behave as they do for cue on the command line.
func loadInstance(cctx *cue.Context, name string, data []byte) (cue.Value, error) {
	abs := "/" + strings.TrimPrefix(path.Clean(name), "/")
	insts := load.Instances([]string{abs}, &load.Config{
		Dir:     path.Dir(abs),
		Overlay: map[string]load.Source{abs: load.FromBytes(data)},
	})
	if len(insts) == 0 {
		return cue.Value{}, errors.WithContext(
			errors.New(errors.CodeConfigLoad, "no CUE instance loaded"),
			"file", name,
		)
	}
	if err := insts[0].Err; err != nil {
		return cue.Value{}, loadError(err, "failed to load CUE file", name)
	}

	val := cctx.BuildInstance(insts[0])
	if err := val.Err(); err != nil {
		return cue.Value{}, loadError(err, "failed to build CUE file", name)
	}
	return val, nil
}

func compile(cctx *cue.Context, name string, data []byte) (cue.Value, error) {
	if isCUE(name) {
		val := cctx.CompileBytes(data, cue.Filename(name))
		if err := val.Err(); err != nil {
			return cue.Value{}, loadError(err, "failed to compile CUE source", name)
		}
		return val, nil
	}

	// JSON is a subset of YAML, so one decoder covers both.
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cue.Value{}, errors.WithContext(
			errors.Wrap(err, errors.CodeConfigLoad, "failed to parse YAML"),
			"file", name,
		)
	}
	val := cctx.Encode(doc)
	if err := val.Err(); err != nil {
		return cue.Value{}, loadError(err, "failed to encode YAML", name)
	}
	return val, nil
}

func decode(cctx *cue.Context, name string, val cue.Value) (*Config, error) {
	schema := cctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "embedded config schema does not compile")
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInvalidConfig, "configuration does not match schema",
			map[string]any{"file": name, "details": cueerrors.Details(err, nil)})
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeInvalidConfig, "failed to decode configuration"),
			"file", name,
		)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithContext(err, "file", name)
	}
	return &cfg, nil
}

func loadError(err error, msg, name string) error {
	return errors.WrapWithContext(err, errors.CodeConfigLoad, msg,
		map[string]any{"file": name, "details": cueerrors.Details(err, nil)})
}

func isCUE(name string) bool {
	return strings.EqualFold(path.Ext(name), ".cue")
}
