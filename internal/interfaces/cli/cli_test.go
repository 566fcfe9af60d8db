package cli

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mbnrg-pip/internal/coeffs"
	"github.com/turtacn/mbnrg-pip/internal/testutil"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeCoeffs(t *testing.T, name string, seed int64) (string, *pip.Coefficients) {
	t.Helper()
	set := testutil.NewSet(name, seed)
	path := filepath.Join(t.TempDir(), name+".yaml")
	require.NoError(t, coeffs.WriteFile(path, set, coeffs.FormatYAML))
	return path, &set.Coefficients
}

func formatVariables(x pip.Variables) string {
	parts := make([]string, len(x))
	for i, v := range x {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func TestRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "mbpip", cmd.Use)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"eval", "gradcheck", "basis", "coeffs", "migrate", "index", "version"} {
		assert.True(t, names[want], want)
	}
	for _, flag := range []string{"config", "log-level", "output", "verbose", "timeout"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRootCommand_InvalidOutputFormat(t *testing.T) {
	_, _, err := runCLI(t, "", "version", "-o", "xml")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestEval_VariablesJSON(t *testing.T) {
	path, a := writeCoeffs(t, "na", 4)
	x := testutil.RandomVariables(rand.New(rand.NewSource(8)))

	out, _, err := runCLI(t, "", "eval", "--coeffs", path, "--variables", formatVariables(x), "--gradient", "-o", "json")
	require.NoError(t, err)

	var got EvalOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Results, 1)
	assert.Equal(t, "na", got.Set)

	e, g := pip.EvaluateWithGradient(a, &x)
	assert.InDelta(t, e, got.Results[0].Energy, 1e-12)
	require.Len(t, got.Results[0].Gradient, pip.NVars)
	assert.InDelta(t, g[0], got.Results[0].Gradient[0], 1e-12)
}

func TestEval_FragmentsFromStdin(t *testing.T) {
	path, _ := writeCoeffs(t, "na", 5)
	stdin := "# first\n" + testutil.SampleFragment + "\n\n# second\n" + testutil.SampleFragment

	out, _, err := runCLI(t, stdin, "eval", "--coeffs", path, "--fragment", "-")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "0\tE = "))
	assert.Contains(t, lines[1], "switch = ")
}

func TestEval_VariablesFileTable(t *testing.T) {
	path, _ := writeCoeffs(t, "na", 6)
	rng := rand.New(rand.NewSource(2))
	var sb strings.Builder
	sb.WriteString("# x0 ... x20\n")
	for i := 0; i < 3; i++ {
		sb.WriteString(strings.Replace(formatVariables(testutil.RandomVariables(rng)), ",", " ", -1))
		sb.WriteString("\n\n")
	}
	pointsPath := filepath.Join(t.TempDir(), "points.txt")
	require.NoError(t, os.WriteFile(pointsPath, []byte(sb.String()), 0o644))

	out, _, err := runCLI(t, "", "eval", "--coeffs", path, "--variables-file", pointsPath, "-o", "table")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 5) // header, separator, 3 rows
	assert.True(t, strings.HasPrefix(lines[0], "#"))
}

func TestEval_Errors(t *testing.T) {
	path, _ := writeCoeffs(t, "na", 7)

	_, _, err := runCLI(t, "", "eval", "--coeffs", path)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEvaluationInputMissing))

	_, _, err = runCLI(t, "", "eval", "--coeffs", path, "--variables", "1,2,3")
	assert.True(t, errors.IsCode(err, errors.ErrCodeVariableCountMismatch))

	_, _, err = runCLI(t, "", "eval", "--coeffs", filepath.Join(t.TempDir(), "missing.yaml"), "--variables", "1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeCoeffParseFailed))

	_, _, err = runCLI(t, "", "eval", "--variables", "1")
	assert.Error(t, err, "--coeffs is required")
}

func TestGradCheck(t *testing.T) {
	path, _ := writeCoeffs(t, "na", 9)
	out, _, err := runCLI(t, "", "gradcheck", "--coeffs", path, "--samples", "4", "--seed", "3", "-o", "json")
	require.NoError(t, err)

	var rep GradCheckOutput
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.True(t, rep.Passed)
	assert.Equal(t, 4, rep.Samples)
	assert.Equal(t, "na", rep.Set)

	out, _, err = runCLI(t, "", "gradcheck", "--coeffs", path, "--samples", "2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "PASS"))
}

func TestBasis(t *testing.T) {
	out, _, err := runCLI(t, "", "basis", "-o", "json")
	require.NoError(t, err)
	var info BasisSummary
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, pip.Size, info.Size)
	assert.Equal(t, pip.Signature(), info.Signature)

	out, _, err = runCLI(t, "", "basis", "term", "0")
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(out))

	_, _, err = runCLI(t, "", "basis", "term", "924")
	assert.True(t, errors.IsNotFound(err))

	_, _, err = runCLI(t, "", "basis", "term", "x")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))

	out, _, err = runCLI(t, "", "basis", "terms", "--degree", "1", "-o", "table")
	require.NoError(t, err)
	counts := pip.DegreeCounts()
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), counts[1]+2)

	out, _, err = runCLI(t, "", "basis", "variables")
	require.NoError(t, err)
	assert.Contains(t, out, "Oa-Ha1")
}

func TestCoeffs_TemplateValidateConvert(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "zero.yaml")
	_, _, err := runCLI(t, "", "coeffs", "template", "--name", "zero", "--ion", "K", "--out", yamlPath)
	require.NoError(t, err)

	out, _, err := runCLI(t, "", "coeffs", "validate", yamlPath, "-o", "json")
	require.NoError(t, err)
	var reports []CoeffReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "zero", reports[0].Name)
	assert.Equal(t, "K", reports[0].Ion)
	assert.Zero(t, reports[0].NonZero)

	src, a := writeCoeffs(t, "na", 12)
	datPath := filepath.Join(dir, "na.dat")
	_, _, err = runCLI(t, "", "coeffs", "convert", src, datPath)
	require.NoError(t, err)

	back, err := coeffs.ReadFile(datPath)
	require.NoError(t, err)
	assert.Equal(t, *a, back.Coefficients)
	assert.Equal(t, "na", back.Name)
}

func TestCoeffs_TemplateStdout(t *testing.T) {
	out, _, err := runCLI(t, "", "coeffs", "template", "--format", "yaml")
	require.NoError(t, err)
	set, err := coeffs.Decode([]byte(out), coeffs.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, coeffs.DefaultName, set.Name)
}

func TestCoeffs_ValidateFailure(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.dat")
	require.NoError(t, os.WriteFile(bad, []byte("1.0\n2.0\n"), 0o644))
	good, _ := writeCoeffs(t, "na", 1)

	out, errOut, err := runCLI(t, "", "coeffs", "validate", good, bad)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
	assert.Contains(t, out, "OK "+good)
	assert.Contains(t, errOut, string(errors.ErrCodeCoeffCountMismatch))
}

func TestVersion(t *testing.T) {
	out, _, err := runCLI(t, "", "version", "-o", "json")
	require.NoError(t, err)
	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, pip.Signature(), info.BasisSignature)
}

func TestMigrateForce_InvalidVersion(t *testing.T) {
	_, _, err := runCLI(t, "", "migrate", "force", "-3")
	assert.Error(t, err)

	_, _, err = runCLI(t, "", "migrate", "force", "abc")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestIndexDrop_NeedsConfirmation(t *testing.T) {
	_, _, err := runCLI(t, "", "index", "drop")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
	assert.Contains(t, err.Error(), "--yes")
}

func TestIndex_MilvusDisabled(t *testing.T) {
	t.Setenv("MBPIP_MILVUS_ENABLED", "false")
	for _, args := range [][]string{{"index", "ensure"}, {"index", "drop", "--yes"}} {
		_, _, err := runCLI(t, "", args...)
		require.Error(t, err, args)
		assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest), args)
		assert.Contains(t, err.Error(), "milvus is disabled", args)
	}
}

func TestInitLogger_Verbose(t *testing.T) {
	l, err := initLogger(&RootOptions{LogLevel: "error", Verbose: true})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestParseVariables(t *testing.T) {
	x, err := parseVariables(strings.Repeat("0.5, ", 20) + "0.25")
	require.NoError(t, err)
	assert.Len(t, x, pip.NVars)
	assert.Equal(t, 0.25, x[20])

	_, err = parseVariables(strings.Repeat("a ", 21))
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestSplitBlocks(t *testing.T) {
	blocks := splitBlocks("# c\nA 1 2 3\nB 4 5 6\n\n\n  \nC 7 8 9\n")
	require.Len(t, blocks, 2)
	assert.Equal(t, "A 1 2 3\nB 4 5 6\n", blocks[0])
	assert.Equal(t, "C 7 8 9\n", blocks[1])
	assert.Empty(t, splitBlocks("\n# only comments\n"))
}

func TestFormatTable(t *testing.T) {
	out := FormatTable([]string{"A", "LONG"}, [][]string{{"xyz", "1"}, {"q"}})
	assert.Equal(t, "A    LONG\n---  ----\nxyz  1   \nq        \n", out)
	assert.Empty(t, FormatTable(nil, nil))
}
