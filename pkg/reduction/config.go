package reduction

import "os"

// Config controls the reduction worker pool and its file staging areas.
type Config struct {
	Concurrency int    // Max concurrent reduction workers. Default 3.
	WorkDir     string // Scratch directory for staged master copies. Default os.TempDir()/reducer-work.
	ServeDir    string // Directory where live reduced files are published. Default ./serve.
}

// DefaultConfig returns the default reduction configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency: 3,
		WorkDir:     os.TempDir() + "/reducer-work",
		ServeDir:    "serve",
	}
}
