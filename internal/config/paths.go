package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "assistcore"

// ConfigNames are the file names looked up in each config directory, in
// load order.
var ConfigNames = []string{
	"assistcore.json",
	"assistcore.jsonc",
	"assistcore.yaml",
	"assistcore.yml",
}

// Paths contains the standard per-user paths.
type Paths struct {
	Config string // ~/.config/assistcore
	State  string // ~/.local/state/assistcore
}

// GetPaths returns the standard per-user paths.
func GetPaths() *Paths {
	return &Paths{
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), AppName),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), AppName),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Config, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// LogDir returns the directory for log files.
func (p *Paths) LogDir() string {
	return filepath.Join(p.State, "log")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the default global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, ConfigNames[0])
}

// ProjectConfigPath returns the path to the default project config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".assistcore", ConfigNames[0])
}

// candidatePaths lists every file Load considers for directory, lowest
// precedence first.
func candidatePaths(directory string) []string {
	var dirs []string
	dirs = append(dirs, GetPaths().Config)
	if directory != "" {
		dirs = append(dirs, directory, filepath.Join(directory, ".assistcore"))
	}

	var out []string
	for _, dir := range dirs {
		for _, name := range ConfigNames {
			out = append(out, filepath.Join(dir, name))
		}
	}
	if p := os.Getenv(EnvConfig); p != "" {
		out = append(out, p)
	}
	return out
}
