// Package repairscope derives the set of files implicated by an observed
// command failure. An automatic repair attempt may only touch paths inside
// this scope; the containment check is a hard lock, not a heuristic.
package repairscope

import (
	"regexp"
	"sort"
	"strings"
)

// Scope is a set of normalized workspace-relative paths a repair attempt may
// edit. An empty scope places no restriction (nothing was implicated, so
// nothing can be locked).
type Scope map[string]struct{}

// Path extraction patterns for stack traces and compiler diagnostics,
// scanned across the combined command output.
var tracePatterns = []*regexp.Regexp{
	// node / ts stack frames: "at fn (src/app.ts:10:15)" or "at src/app.ts:10:15"
	regexp.MustCompile(`at .*?\(?((?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_.\-]+\.[cm]?[jt]sx?):\d+:\d+`),
	// python tracebacks: File "app/main.py", line 3
	regexp.MustCompile(`File "((?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_.\-]+\.py)", line \d+`),
	// go panics and test failures: pkg/foo/bar.go:42
	regexp.MustCompile(`((?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_.\-]+\.go):\d+`),
	// generic compiler diagnostics: src/app.ts:12:5
	regexp.MustCompile(`((?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_.\-]+\.[a-z]{1,4}):\d+:\d+`),
}

// Directories that are never repair targets even when they appear in traces.
var excludedPrefixes = []string{
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"site-packages/",
	"usr/",
}

// interpreters whose first file argument is the executed script.
var interpreters = map[string]bool{
	"node": true, "nodejs": true, "deno": true, "bun": true, "tsx": true, "ts-node": true,
	"python": true, "python3": true,
	"ruby": true, "perl": true,
	"sh": true, "bash": true, "zsh": true,
}

// Options adjusts scope construction.
type Options struct {
	// FailingFile is an explicit hint added when the command output
	// yielded no paths of its own.
	FailingFile string
}

// Build scans a failing command's output for implicated file paths, adds the
// command's direct script target, and falls back to the explicit failing-file
// hint when the output was too sparse to name any file.
func Build(command, stderr, stdout string, opts Options) Scope {
	scope := make(Scope)

	combined := stderr + "\n" + stdout
	for _, re := range tracePatterns {
		for _, m := range re.FindAllStringSubmatch(combined, -1) {
			scope.add(m[1])
		}
	}

	if target := scriptTarget(command); target != "" {
		scope.add(target)
	}

	if len(scope) == 0 && opts.FailingFile != "" {
		scope.add(opts.FailingFile)
	}

	return scope
}

func (s Scope) add(p string) {
	p = normalize(p)
	if p == "" {
		return
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(p, prefix) || strings.Contains(p, "/"+prefix) {
			return
		}
	}
	s[p] = struct{}{}
}

// Contains reports whether path falls inside the scope. Exact matches are
// accepted, as are suffix/prefix containments so that "src/app.ts" in scope
// covers a candidate reported as "app/src/app.ts" and vice versa.
func (s Scope) Contains(p string) bool {
	p = normalize(p)
	if p == "" {
		return false
	}
	if _, ok := s[p]; ok {
		return true
	}
	for entry := range s {
		if strings.HasSuffix(entry, "/"+p) || strings.HasSuffix(p, "/"+entry) {
			return true
		}
	}
	return false
}

// Empty reports whether no files were implicated.
func (s Scope) Empty() bool { return len(s) == 0 }

// Paths returns the scope contents sorted for stable logging.
func (s Scope) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// scriptTarget extracts the script file passed to an interpreter, e.g. the
// "src/server.js" in "node src/server.js --port 3000".
func scriptTarget(command string) string {
	fields := strings.Fields(command)
	if len(fields) < 2 {
		return ""
	}
	if !interpreters[baseName(fields[0])] {
		return ""
	}
	for _, arg := range fields[1:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if strings.Contains(baseName(arg), ".") {
			return arg
		}
		break
	}
	return ""
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	return strings.TrimSpace(p)
}
