package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Storage names the local files and directories the pipeline writes.
type Storage struct {
	SQLitePath    string `yaml:"sqlite_path"`
	ArtifactDir   string `yaml:"artifact_dir"`
	RunRecordDir  string `yaml:"run_record_dir"`
	EmitRunRecord bool   `yaml:"emit_run_records"`
}

// App is the top-level application config (sentinel.yaml).
type App struct {
	Storage     Storage       `yaml:"storage"`
	SourcesPath string        `yaml:"sources_path"`
	Quality     QualityConfig `yaml:"quality"`
}

// DefaultApp returns the local-first defaults used when no file exists.
func DefaultApp() App {
	return App{
		Storage: Storage{
			SQLitePath:   "sentinel.db",
			ArtifactDir:  "output/incidents",
			RunRecordDir: "run_records",
		},
		SourcesPath: "config/sources.yaml",
		Quality:     DefaultQuality(),
	}
}

// LoadApp reads sentinel.yaml, falling back to defaults when path is empty
// or the file does not exist.
func LoadApp(path string) (App, error) {
	app := DefaultApp()
	if path == "" {
		return app, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return app, nil
	}
	if err != nil {
		return App{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	if err := yaml.Unmarshal(raw, &app); err != nil {
		return App{}, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	if err := app.Quality.validate(); err != nil {
		return App{}, err
	}
	if app.Storage.SQLitePath == "" {
		return App{}, fmt.Errorf("%w: storage.sqlite_path must not be empty", ErrConfig)
	}
	return app, nil
}
