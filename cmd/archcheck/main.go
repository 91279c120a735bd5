// Command archcheck enforces the import boundaries of the domain and core packages.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"mealcore/internal/validation"
)

const (
	defaultModule = "mealcore"
	defaultDir    = "."
)

var (
	exitFunc  = os.Exit
	checkFunc = validation.CheckImports
)

func main() {
	exitFunc(run(os.Args, os.Stderr, checkFunc))
}

func run(args []string, stderr io.Writer, check func(string, []validation.ImportRule) ([]validation.Error, error)) int {
	if len(args) == 0 {
		return 1
	}
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	flags.SetOutput(stderr)
	module := flags.String("module", defaultModule, "module path the rules are rooted at")
	dir := flags.String("dir", defaultDir, "directory to load packages from")
	if err := flags.Parse(args[1:]); err != nil {
		return 1
	}
	if strings.TrimSpace(*module) == "" {
		_, _ = fmt.Fprintln(stderr, "module path must not be empty")
		return 1
	}

	violations, err := check(*dir, validation.DefaultImportRules(*module))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "architecture guard failed: %v\n", err)
		return 1
	}
	if len(violations) == 0 {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "Found %d forbidden imports:\n\n", len(violations))
	for _, violation := range violations {
		if _, writeErr := fmt.Fprintf(stderr, "%s:%d\n  %s\n\n", violation.File, violation.Line, violation.Message); writeErr != nil {
			return 1
		}
	}
	return 1
}
