package classify

import (
	"regexp"
	"strings"
)

// ErrorType is the semantic category of a failed execution.
type ErrorType string

const (
	ErrModuleNotFound  ErrorType = "MODULE_NOT_FOUND"
	ErrCommandNotFound ErrorType = "COMMAND_NOT_FOUND"
	ErrSyntax          ErrorType = "SYNTAX_ERROR"
	ErrPermission      ErrorType = "PERMISSION_ERROR"
	ErrConfig          ErrorType = "CONFIG_ERROR"
	ErrUnknown         ErrorType = "UNKNOWN"
)

// ExecutionError is the structured classification of a failed command.
type ExecutionError struct {
	Type              ErrorType `json:"errorType"`
	MissingDependency string    `json:"missingDependency,omitempty"`
	FailingFile       string    `json:"failingFile,omitempty"`
	Stderr            string    `json:"stderr"`
	Stdout            string    `json:"stdout"`
	ExitCode          *int      `json:"exitCode"`
}

// Dependency name extraction for module-not-found errors, tried in order.
var missingDepPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Cannot find module '([^']+)'`),
	regexp.MustCompile(`Cannot find package '([^']+)'`),
	regexp.MustCompile(`Module not found: Error: Can't resolve '([^']+)'`),
	regexp.MustCompile(`ModuleNotFoundError: No module named '([^']+)'`),
	regexp.MustCompile(`ImportError: No module named '?([A-Za-z0-9_.\-]+)'?`),
	regexp.MustCompile(`no required module provides package ([^\s:]+)`),
}

// Stack-frame patterns used to pull a best-effort failing file out of error
// output, tried in order.
var failingFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`at .*?\(?((?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_.\-]+\.[cm]?[jt]sx?):\d+:\d+\)?`),
	regexp.MustCompile(`File "((?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_.\-]+\.py)", line \d+`),
	regexp.MustCompile(`((?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_.\-]+\.go):\d+`),
	regexp.MustCompile(`((?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_.\-]+\.[a-z]{1,4}):\d+:\d+`),
}

// errorRule pairs a predicate with the category it implies. Rules are
// evaluated once, in order; the first match wins.
type errorRule struct {
	matches func(stderr, stdout string, exitCode *int) bool
	errType ErrorType
}

var errorRules = []errorRule{
	{
		errType: ErrCommandNotFound,
		matches: func(stderr, stdout string, exitCode *int) bool {
			if exitCode != nil && *exitCode == 127 {
				return true
			}
			combined := stderr + "\n" + stdout
			return strings.Contains(combined, "command not found") ||
				strings.Contains(combined, "is not recognized as an internal or external command")
		},
	},
	{
		errType: ErrModuleNotFound,
		matches: func(stderr, stdout string, _ *int) bool {
			combined := stderr + "\n" + stdout
			return strings.Contains(combined, "Cannot find module") ||
				strings.Contains(combined, "Cannot find package") ||
				strings.Contains(combined, "Module not found") ||
				strings.Contains(combined, "ModuleNotFoundError") ||
				strings.Contains(combined, "ImportError") ||
				strings.Contains(combined, "no required module provides package")
		},
	},
	{
		errType: ErrSyntax,
		matches: func(stderr, stdout string, _ *int) bool {
			combined := stderr + "\n" + stdout
			return strings.Contains(combined, "SyntaxError") ||
				strings.Contains(combined, "Unexpected token") ||
				strings.Contains(combined, "syntax error") ||
				strings.Contains(combined, "ParseError")
		},
	},
	{
		errType: ErrPermission,
		matches: func(stderr, stdout string, _ *int) bool {
			combined := stderr + "\n" + stdout
			return strings.Contains(combined, "EACCES") ||
				strings.Contains(combined, "Permission denied") ||
				strings.Contains(combined, "PermissionError") ||
				strings.Contains(combined, "Operation not permitted")
		},
	},
	{
		errType: ErrConfig,
		matches: func(stderr, stdout string, _ *int) bool {
			combined := stderr + "\n" + stdout
			markers := []string{
				"tsconfig.json", "package.json", "pyproject.toml",
				".eslintrc", "webpack.config", "vite.config",
				"Invalid configuration", "missing config",
			}
			for _, m := range markers {
				if strings.Contains(combined, m) {
					return true
				}
			}
			return false
		},
	},
}

// ExecutionErrorFrom applies the ordered rule table to a failed command's
// output and extracts a best-effort missing dependency and failing file.
func ExecutionErrorFrom(stderr, stdout string, exitCode *int) ExecutionError {
	result := ExecutionError{
		Type:     ErrUnknown,
		Stderr:   stderr,
		Stdout:   stdout,
		ExitCode: exitCode,
	}

	for _, rule := range errorRules {
		if rule.matches(stderr, stdout, exitCode) {
			result.Type = rule.errType
			break
		}
	}

	combined := stderr + "\n" + stdout

	if result.Type == ErrModuleNotFound {
		for _, re := range missingDepPatterns {
			if m := re.FindStringSubmatch(combined); m != nil {
				result.MissingDependency = m[1]
				break
			}
		}
	}

	for _, re := range failingFilePatterns {
		if m := re.FindStringSubmatch(combined); m != nil {
			result.FailingFile = m[1]
			break
		}
	}

	return result
}
