package contracts

import "runtime"

const (
	// Version is the current version of the application
	Version = "0.3.0-beta.1"

	// VersionStage represents the current development step
	VersionStage = "beta"

	// TokenFormatVersion is the license token envelope prefix this build
	// issues and accepts.
	TokenFormatVersion = "isxlic.v1"

	// APIVersion is the version of the HTTP and event stream contracts
	APIVersion = "v1"
)

var (
	// BuildTime is set during build using ldflags
	BuildTime = "unknown"

	// GitCommit is set during build using ldflags
	GitCommit = "unknown"

	// GitBranch is set during build using ldflags
	GitBranch = "unknown"
)

// VersionInfo contains detailed version information
type VersionInfo struct {
	Version      string `json:"version"`
	Stage        string `json:"stage"`
	BuildTime    string `json:"build_time"`
	GitCommit    string `json:"git_commit"`
	GitBranch    string `json:"git_branch"`
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	TokenFormat  string `json:"token_format"`
	APIVersion   string `json:"api_version"`
}

// GetVersionInfo returns detailed version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:      Version,
		Stage:        VersionStage,
		BuildTime:    BuildTime,
		GitCommit:    GitCommit,
		GitBranch:    GitBranch,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		TokenFormat:  TokenFormatVersion,
		APIVersion:   APIVersion,
	}
}
