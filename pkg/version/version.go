// Package version exposes build metadata for the version endpoint, logs,
// and user-agent strings.
package version

import "runtime/debug"

// AppName is used in version strings and the SDK handshake.
const AppName = "argus"

// gitCommitOverride is injected via -ldflags for container builds that have
// no .git directory.
var gitCommitOverride string

// GitCommit is the short commit hash, or "dev" when no VCS info is available
// (go test, tarball builds).
var GitCommit = resolveCommit()

func resolveCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shorten(s.Value)
			}
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "argus/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
