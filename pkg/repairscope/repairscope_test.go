package repairscope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild_NodeStackTrace(t *testing.T) {
	stderr := `TypeError: Cannot read properties of undefined (reading 'id')
    at handler (src/app.ts:10:15)
    at Layer.handle (node_modules/express/lib/router/layer.js:95:5)`

	scope := Build("npm test", stderr, "", Options{})

	assert.True(t, scope.Contains("src/app.ts"))
	assert.False(t, scope.Contains("src/unrelated.ts"))
	// Vendored frames are never repair targets.
	for _, p := range scope.Paths() {
		assert.NotContains(t, p, "node_modules")
	}
}

func TestBuild_PythonTraceback(t *testing.T) {
	stderr := `Traceback (most recent call last):
  File "app/main.py", line 12, in <module>
    run()
  File "app/worker.py", line 4, in run
ValueError: bad state`

	scope := Build("pytest", stderr, "", Options{})

	assert.True(t, scope.Contains("app/main.py"))
	assert.True(t, scope.Contains("app/worker.py"))
	assert.Len(t, scope.Paths(), 2)
}

func TestBuild_GoTestFailure(t *testing.T) {
	stdout := `--- FAIL: TestThing (0.00s)
    engine_test.go:42: unexpected status
FAIL	workbench/pkg/engine	0.012s`

	scope := Build("go test ./...", "", stdout, Options{})
	assert.True(t, scope.Contains("engine_test.go"))
}

func TestBuild_InterpreterTarget(t *testing.T) {
	scope := Build("node src/server.js --port 3000", "boom", "", Options{})
	assert.True(t, scope.Contains("src/server.js"))
}

func TestBuild_InterpreterFlagSkipped(t *testing.T) {
	scope := Build("python3 -u scripts/migrate.py", "fail", "", Options{})
	assert.True(t, scope.Contains("scripts/migrate.py"))
}

func TestBuild_NonInterpreterCommandHasNoTarget(t *testing.T) {
	scope := Build("npm run build", "no files here", "", Options{})
	assert.True(t, scope.Empty())
}

func TestBuild_FailingFileHintOnSparseOutput(t *testing.T) {
	scope := Build("npm test", "tests failed", "", Options{FailingFile: "src/a.ts"})
	assert.True(t, scope.Contains("src/a.ts"))
	assert.Equal(t, []string{"src/a.ts"}, scope.Paths())
}

func TestBuild_HintIgnoredWhenOutputNamesFiles(t *testing.T) {
	stderr := "at run (src/app.ts:3:1)"
	scope := Build("npm test", stderr, "", Options{FailingFile: "src/other.ts"})
	assert.True(t, scope.Contains("src/app.ts"))
	assert.False(t, scope.Contains("src/other.ts"))
}

func TestContains_SuffixPrefixMatches(t *testing.T) {
	scope := Scope{}
	scope.add("src/app.ts")

	assert.True(t, scope.Contains("src/app.ts"))
	assert.True(t, scope.Contains("app.ts"), "basename suffix containment")
	assert.True(t, scope.Contains("packages/web/src/app.ts"), "longer path containing scope entry")
	assert.False(t, scope.Contains("src/app.tsx"))
	assert.False(t, scope.Contains(""))
}

func TestContains_NormalizesCandidate(t *testing.T) {
	scope := Scope{}
	scope.add("src/app.ts")
	assert.True(t, scope.Contains("./src/app.ts"))
	assert.True(t, scope.Contains("/src/app.ts"))
}

func TestBuild_BareStackFrame(t *testing.T) {
	// Frames without the "fn (...)" wrapper must yield the whole path, not
	// a tail fragment that would widen Contains' suffix matching.
	scope := Build("npm test", "at src/app.ts:10:15", "", Options{})

	assert.Equal(t, []string{"src/app.ts"}, scope.Paths())
	assert.True(t, scope.Contains("src/app.ts"))
	assert.False(t, scope.Contains("src/unrelated.ts"))
	assert.False(t, scope.Contains("lib/p.ts"))
}
