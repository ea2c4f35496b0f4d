package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Run an allocation script",
		Long: `The run command executes an allocation script, one command per line.
The script is read from standard input when no file is given.

Commands:
  alloc <owner> <size>   Allocate size units on behalf of owner
  free <owner>           Release the earliest allocation of owner
  stats                  Print allocated space, free space and internal fragmentation
  map                    Print every free list and every live allocation
  validate               Check the allocator's internal consistency
  resize <total>         Discard the allocator and start over with a new total size

Blank lines and lines starting with # are ignored. A failing command is
reported and the script continues.

Example:
  buddysim run workload.txt
  echo "alloc P1 20" | buddysim run --total 64
  buddysim run workload.txt --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := cmd.InOrStdin()
			if len(args) == 1 {
				file, err := os.Open(args[0])
				if err != nil {
					return errors.Wrapf(err, "failed to open script")
				}
				defer file.Close()
				input = file
			}

			return runScript(input, cmd.OutOrStdout())
		},
	}
	return cmd
}

func runScript(input io.Reader, out io.Writer) error {
	sess, err := newSession(out, newLogger(), totalSize, quiet)
	if err != nil {
		return err
	}

	failures := 0
	lineNumber := 0
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		lineNumber++

		err = sess.exec(scanner.Text())
		if err != nil {
			failures++
			printError("line %d: %v\n", lineNumber, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "failed to read script")
	}

	if jsonOut {
		fmt.Fprintln(out, sess.allocator.BuildStatsString(true))
	}

	if failures > 0 {
		return errors.Newf("%d command(s) failed", failures)
	}
	return nil
}
