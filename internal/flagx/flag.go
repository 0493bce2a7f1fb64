// Package flagx contains helpers for parsing only the command-line flags a
// component owns, so several flag sets can share os.Args.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// Filter selects the flags one flag set owns. Names may be given with one or
// two leading dashes; "-x" and "--x" match the same flag, as in package flag.
type Filter struct {
	Allowed []string
	// Bool flags never take the following token as their value.
	Bool []string
}

func flagName(arg string) string {
	return strings.TrimLeft(arg, "-")
}

func nameSet(flags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		set[flagName(f)] = struct{}{}
	}
	return set
}

// Apply returns the subset of args made of allowed flags and their values.
//
// Both "-c conf.json" and "-c=conf.json" forms are recognised. A token that
// starts with "-" is never consumed as a value. Parsing stops at "--".
func (f Filter) Apply(args []string) []string {
	allowed := nameSet(f.Allowed)
	bools := nameSet(f.Bool)

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, _, hasValue := strings.Cut(arg, "=")
		name = flagName(name)
		if _, ok := allowed[name]; !ok {
			continue
		}

		filtered = append(filtered, arg)
		if hasValue {
			continue
		}
		if _, ok := bools[name]; ok {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// FilterArgs is Filter{Allowed: allowedFlags}.Apply(args).
func FilterArgs(args []string, allowedFlags []string) []string {
	return Filter{Allowed: allowedFlags}.Apply(args)
}

// ConfigPath extracts the JSON config path given with -c or -config.
// The last occurrence wins; an empty string means no file was requested.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return path
}

// JsonConfigFlags is ConfigPath applied to the process arguments.
func JsonConfigFlags() string {
	return ConfigPath(os.Args[1:])
}
