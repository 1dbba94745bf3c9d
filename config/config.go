// Package config holds the parameters of the hellohpc probes. They come from
// a YAML file named with -config, and individual flags override the values
// of the file.
//
// An example file:
//
//	ring:
//	  buffer_size: 4
//	file:
//	  backend: bolt
//	  dataset: data
//	  rows: 4
//	  cols: 4
package config

import (
	"flag"
	"io"
	"os"

	"github.com/amanotk/hellohpc/container"
	"github.com/amanotk/hellohpc/mpi"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the parameters of both probes.
type Config struct {
	Ring Ring `yaml:"ring"`
	File File `yaml:"file"`
}

// Ring parameterizes the ring exchange.
type Ring struct {
	// BufferSize is the number of elements exchanged with each neighbour.
	BufferSize int `yaml:"buffer_size"`
}

// File parameterizes the container round trip.
type File struct {
	// Path of the container. Empty means "hellohdf" plus the extension of
	// the backend, in the working directory.
	Path    string `yaml:"path"`
	Dataset string `yaml:"dataset"`
	Backend string `yaml:"backend"`
	// Rows and Cols are the local extents of the block of each process.
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// Default returns the parameters used when nothing else is given.
func Default() *Config {
	return &Config{
		Ring: Ring{BufferSize: 4},
		File: File{
			Dataset: "data",
			Backend: container.DefaultBackend,
			Rows:    4,
			Cols:    4,
		},
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are an
// error.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	defer f.Close()
	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "parsing configuration %q", path)
	}
	return cfg, nil
}

// Validate checks that the parameters can be used.
func (c *Config) Validate() error {
	if c.Ring.BufferSize < 1 {
		return errors.Errorf("ring buffer size must be positive, got %d", c.Ring.BufferSize)
	}
	if c.File.Dataset == "" {
		return errors.New("dataset name is empty")
	}
	if c.File.Rows < 1 || c.File.Cols < 1 {
		return errors.Errorf("local extents must be positive, got %dx%d", c.File.Rows, c.File.Cols)
	}
	if _, err := container.Lookup(c.File.Backend); err != nil {
		return err
	}
	return nil
}

// FilePath returns the path of the container for a backend with the given
// extension.
func (f File) FilePath(ext string) string {
	if f.Path != "" {
		return f.Path
	}
	return "hellohdf" + ext
}

// Share replaces f, on every process of comm, with the parameters of the
// root process, so all processes address the same file and dataset even
// when their command lines differ. Every process must call it.
func (f *File) Share(comm mpi.Mpi) error {
	return errors.WithMessage(mpi.Bcast(comm, f, mpi.Root), "sharing file parameters")
}

// Flags are the command line flags of the probes.
type Flags struct {
	fs     *flag.FlagSet
	config string
	values Config
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVar(&f.config, "config", "", "YAML file with the probe parameters")
	fs.IntVar(&f.values.Ring.BufferSize, "buffer-size", d.Ring.BufferSize, "number of elements sent to each neighbour of the ring")
	fs.StringVar(&f.values.File.Path, "file", "", "path of the container file (default hellohdf plus the backend extension)")
	fs.StringVar(&f.values.File.Dataset, "dataset", d.File.Dataset, "name of the dataset")
	fs.StringVar(&f.values.File.Backend, "backend", d.File.Backend, "container backend")
	fs.IntVar(&f.values.File.Rows, "rows", d.File.Rows, "rows of the block of each process")
	fs.IntVar(&f.values.File.Cols, "cols", d.File.Cols, "columns of the block of each process")
	return f
}

// Config returns the configuration: the file given with -config, or the
// defaults, with the flags set on the command line applied over it. The
// flag set must have been parsed.
func (f *Flags) Config() (*Config, error) {
	cfg := Default()
	if f.config != "" {
		var err error
		if cfg, err = Load(f.config); err != nil {
			return nil, err
		}
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "buffer-size":
			cfg.Ring.BufferSize = f.values.Ring.BufferSize
		case "file":
			cfg.File.Path = f.values.File.Path
		case "dataset":
			cfg.File.Dataset = f.values.File.Dataset
		case "backend":
			cfg.File.Backend = f.values.File.Backend
		case "rows":
			cfg.File.Rows = f.values.File.Rows
		case "cols":
			cfg.File.Cols = f.values.File.Cols
		}
	})
	return cfg, cfg.Validate()
}
