package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

// isolate points the config file and data directory at a temp dir
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("STEERD_DATA_DIR", filepath.Join(dir, "data"))

	prevCfg, prevLevel := cfgFile, logLevel
	cfgFile = filepath.Join(dir, "steerd.json")
	logLevel = ""
	t.Cleanup(func() {
		cfgFile, logLevel = prevCfg, prevLevel
	})
	return dir
}

// run executes the root command with args and returns what it printed
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetIn(nil)
	})

	resetFlags(cmd)
	err := cmd.Execute()
	return out.String(), err
}

// resetFlags clears help and version flags left set by earlier executions
func resetFlags(cmd *cobra.Command) {
	for _, name := range []string{"help", "version"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set("false")
			f.Changed = false
		}
	}
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// newDriveCmd returns a drive command with fresh flag state
func newDriveCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "drive"}
	addDriveFlags(cmd)
	return cmd
}
