package terminal

import (
	"errors"
	"os"
	"runtime"
	"strings"
)

var errEmptyCommand = errors.New("empty command line")

func DefaultShell() string {
	return defaultShellFor(runtime.GOOS, os.Getenv)
}

func defaultShellFor(goos string, getenv func(string) string) string {
	if goos == "windows" {
		if shell := getenv("ComSpec"); shell != "" {
			return shell
		}
		if shell := getenv("COMSPEC"); shell != "" {
			return shell
		}
		return "cmd.exe"
	}

	if shell := getenv("SHELL"); shell != "" {
		return shell
	}

	return "/bin/bash"
}

// splitCommandLine splits a command line with POSIX shell quoting rules for
// single quotes, double quotes and backslash escapes. Expansions are not
// performed.
func splitCommandLine(line string) (string, []string, error) {
	var (
		fields  []string
		current strings.Builder
		inField bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				current.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inField = true
		case r == '\'' || r == '"':
			quote = r
			inField = true
		case r == ' ' || r == '\t' || r == '\n':
			if inField {
				fields = append(fields, current.String())
				current.Reset()
				inField = false
			}
		default:
			current.WriteRune(r)
			inField = true
		}
	}
	if quote != 0 {
		return "", nil, errors.New("unterminated quote in command line")
	}
	if inField {
		fields = append(fields, current.String())
	}
	if len(fields) == 0 {
		return "", nil, errEmptyCommand
	}
	if len(fields) == 1 {
		return fields[0], nil, nil
	}
	return fields[0], fields[1:], nil
}
