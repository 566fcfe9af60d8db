package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// BuildInfo describes the binary and the basis compiled into it.
type BuildInfo struct {
	Version        string `json:"version"`
	Commit         string `json:"commit"`
	BuildDate      string `json:"build_date"`
	GoVersion      string `json:"go_version"`
	BasisSignature string `json:"basis_signature"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("mbpip %s (commit %s, built %s, %s)\nbasis %s",
		b.Version, b.Commit, b.BuildDate, b.GoVersion, b.BasisSignature)
}

func CurrentBuildInfo() BuildInfo {
	return BuildInfo{
		Version:        Version,
		Commit:         GitCommit,
		BuildDate:      BuildDate,
		GoVersion:      runtime.Version(),
		BasisSignature: pip.Signature(),
	}
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, CurrentBuildInfo())
		},
	}
}
