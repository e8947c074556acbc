package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/dairui1/vdt/internal/service"
	"github.com/spf13/cobra"
)

// Version and Commit are set at build time via -ldflags.
//
//	go build -ldflags "-X github.com/dairui1/vdt/internal/cli.Version=v0.1.0
//	  -X github.com/dairui1/vdt/internal/cli.Commit=48cae1d"
var (
	Version = ""
	Commit  = ""
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// buildInfo identifies the running binary.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

func (b buildInfo) String() string {
	if b.Commit == "" {
		return "vdt " + b.Version
	}
	c := shortCommit(b.Commit)
	if b.Dirty {
		c += "-dirty"
	}
	return fmt.Sprintf("vdt %s (%s)", b.Version, c)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and commit hash",
	Long: `Print the vdt version string and, when known, the git commit it
was built from. Values set with -ldflags win; otherwise the module version
and VCS revision embedded by the Go toolchain are used.

Examples:
  vdt v0.1.0 (48cae1d)
  vdt v0.1.0 (48cae1d-dirty)
  vdt dev`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b := currentBuild(Version, Commit)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(b, nil))
		}
		fmt.Fprintln(cmd.OutOrStdout(), b)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// currentBuild merges ldflags values with the embedded build info.
func currentBuild(version, commit string) buildInfo {
	b := buildInfo{Version: version, Commit: commit}
	if info, ok := readBuildInfo(); ok {
		b.GoVersion = info.GoVersion
		if b.Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			b.Version = info.Main.Version
		}
		if b.Commit == "" {
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					b.Commit = s.Value
				case "vcs.modified":
					b.Dirty = s.Value == "true"
				}
			}
		}
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		b.Dirty = false
	}
	return b
}

// shortCommit returns the first 7 characters of a commit hash.
func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
