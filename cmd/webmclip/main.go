package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "webmclip",
		Short:         "Convert short video clips to size-capped WebM",
		Long:          "webmclip converts short MP4 and GIF clips into WebM files that fit a size and duration budget, from the command line or through a small web service.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newConvertCmd(),
		newServeCmd(),
		newEnqueueCmd(),
		newQueueCmd(),
		newHistoryCmd(),
		newPolicyCmd(),
		newHashTokenCmd(),
		newDoctorCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
