package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all the application paths
// This is the single source of truth for ALL file paths in the application
type Paths struct {
	ExecutableDir string
	DataDir       string
	LogsDir       string
	ExportsDir    string

	// Files inside DataDir
	StoreFile      string // encrypted fallback for the secure store
	StoreLock      string
	TrialStoreFile string // encrypted fallback for the trial ledger
	RegistryFile   string // revocation registry (JSON lines)
	AuditFile      string // audit log (JSON lines)
	CatalogFile    string // license key catalog
}

// GetPaths returns the application paths relative to the executable location
// All paths are ALWAYS relative to the executable directory, never the current working directory
func GetPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %v", err)
	}

	// Resolve symlinks to get the actual executable location
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %v", err)
	}

	exeDir := filepath.Dir(exe)

	if logger := slog.Default(); logger != nil {
		logger.Debug("Resolved executable directory",
			slog.String("exe_path", exe),
			slog.String("exe_dir", exeDir))
	}

	// Directory structure:
	// <exe dir>/
	//   ├── data/
	//   │   ├── license.store
	//   │   ├── trials.store
	//   │   ├── revocations.jsonl
	//   │   ├── audit.jsonl
	//   │   ├── catalog.json
	//   │   └── exports/
	//   └── logs/
	return PathsAt(exeDir, filepath.Join(exeDir, "data"), filepath.Join(exeDir, "logs")), nil
}

// PathsAt builds the path set for an explicit data and logs directory
func PathsAt(baseDir, dataDir, logsDir string) *Paths {
	return &Paths{
		ExecutableDir:  baseDir,
		DataDir:        dataDir,
		LogsDir:        logsDir,
		ExportsDir:     filepath.Join(dataDir, "exports"),
		StoreFile:      filepath.Join(dataDir, StoreFileName),
		StoreLock:      filepath.Join(dataDir, StoreFileName+".lock"),
		TrialStoreFile: filepath.Join(dataDir, TrialStoreFileName),
		RegistryFile:   filepath.Join(dataDir, RegistryFileName),
		AuditFile:      filepath.Join(dataDir, AuditFileName),
		CatalogFile:    filepath.Join(dataDir, CatalogFileName),
	}
}

// ResolvedPaths returns the path set for the configured directories
func (c *Config) ResolvedPaths() *Paths {
	return PathsAt(filepath.Dir(c.Paths.DataDir), c.Paths.DataDir, c.Paths.LogsDir)
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	directories := []string{
		p.DataDir,
		p.LogsDir,
		p.ExportsDir,
	}

	logger := slog.Default()

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}

		if logger != nil {
			logger.Debug("Ensured directory exists",
				slog.String("directory", dir))
		}
	}

	return nil
}

// GetExportPath returns the path for an audit export file
func (p *Paths) GetExportPath(filename string) string {
	return filepath.Join(p.ExportsDir, filename)
}

// LogPathResolution logs detailed path resolution information for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		return
	}

	logger.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("executable", p.ExecutableDir),
			slog.String("data", p.DataDir),
			slog.String("logs", p.LogsDir),
			slog.String("exports", p.ExportsDir),
		),
		slog.Group("files",
			slog.String("store", p.StoreFile),
			slog.String("trial_store", p.TrialStoreFile),
			slog.String("registry", p.RegistryFile),
			slog.String("audit", p.AuditFile),
			slog.String("catalog", p.CatalogFile),
		))
}
