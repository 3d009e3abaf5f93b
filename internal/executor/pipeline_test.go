package executor

import (
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedEnv = []string{
	"LC_ALL=C",
	"PAGER=cat",
	"ZETA=last",
	"ALPHA=first",
	"MIDDLE=between",
	"ALPHABET=abc",
}

func sortedListing(env []string, keep func(string) bool) string {
	var lines []string
	for _, kv := range env {
		if keep == nil || keep(kv) {
			lines = append(lines, kv)
		}
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestEnvListingMatchesPrintenvSort(t *testing.T) {
	e, out, _ := newTestExecutor(t)
	e.Env = fixedEnv

	p := EnvListing(e.PagerStage(PagerPolicy{}))
	require.Len(t, p, 3)

	results, err := e.RunPipeline(p)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, 0, r.ExitCode, r.Name)
		assert.Greater(t, r.Pid, 0, r.Name)
	}
	assert.Equal(t, "cat", results[2].Name)
	assert.Equal(t, sortedListing(fixedEnv, nil), out.String())
}

func TestFilteredEnvListing(t *testing.T) {
	e, out, _ := newTestExecutor(t)
	e.Env = fixedEnv

	p := FilteredEnvListing([]string{"ALPHA"}, e.PagerStage(PagerPolicy{}))
	require.Len(t, p, 4)
	assert.Equal(t, "printenv | grep | sort | cat/less/more", p.String())

	results, err := e.RunPipeline(p)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, sortedListing(fixedEnv, func(kv string) bool {
		return strings.Contains(kv, "ALPHA")
	}), out.String())

	t.Run("no match", func(t *testing.T) {
		out.Reset()
		results, err := e.RunPipeline(FilteredEnvListing([]string{"NOTHING_MATCHES_THIS"}, e.PagerStage(PagerPolicy{})))
		require.NoError(t, err)
		assert.Equal(t, 1, results[1].ExitCode, "grep exits 1 without matches")
		assert.Empty(t, out.String())
	})
}

func TestFilteredEnvListingWithoutArgs(t *testing.T) {
	assert.Len(t, FilteredEnvListing(nil, Single(MustCommand("cat"))), 3)
}

func TestPagerStage(t *testing.T) {
	e := &Executor{Env: []string{"MYPAGER=less -R"}}

	s := e.PagerStage(PagerPolicy{EnvVar: "MYPAGER", Fallbacks: []string{"more"}})
	require.Len(t, s.Candidates, 2)
	assert.Equal(t, []string{"less", "-R"}, s.Candidates[0].Argv())
	assert.Equal(t, "more", s.Candidates[1].Name())

	e.Env = []string{}
	s = e.PagerStage(PagerPolicy{})
	require.Len(t, s.Candidates, 2)
	assert.Equal(t, "less", s.Candidates[0].Name())
}

func TestStageResolveFallsBack(t *testing.T) {
	s := Stage{Candidates: []Command{MustCommand("procshell-missing-pager"), MustCommand("cat")}}
	c, err := s.Resolve(os.Getenv("PATH"))
	require.NoError(t, err)
	assert.Equal(t, "cat", c.Name())

	_, err = Stage{Candidates: []Command{MustCommand("procshell-missing-pager")}}.Resolve(os.Getenv("PATH"))
	assert.ErrorIs(t, err, ErrNotResolvable)
}

func TestStageResolveUsesGivenPath(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "procshell-test-pager", "exec cat")

	s := Stage{Candidates: []Command{MustCommand("procshell-test-pager"), MustCommand("cat")}}
	c, err := s.Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, "procshell-test-pager", c.Name())

	c, err = s.Resolve(os.Getenv("PATH"))
	require.NoError(t, err)
	assert.Equal(t, "cat", c.Name())
}

func TestPipelinePagerFromChildPath(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "procshell-test-pager", "sed 's/^/> /'")

	e, out, _ := newTestExecutor(t)
	e.Env = []string{"LC_ALL=C", "PATH=" + dir + string(os.PathListSeparator) + os.Getenv("PATH"), "PAGER=procshell-test-pager"}
	results, err := e.RunPipeline(FilteredEnvListing([]string{"^LC_ALL="}, e.PagerStage(PagerPolicy{})))
	require.NoError(t, err)
	assert.Equal(t, "procshell-test-pager", results[3].Name)
	assert.Equal(t, 0, results[3].ExitCode)
	assert.Equal(t, "> LC_ALL=C\n", out.String())
}

func TestPipelineMissingPagerFailsWithoutHanging(t *testing.T) {
	e, _, logs := newTestExecutor(t)
	e.Env = []string{"LC_ALL=C", "PAGER=procshell-missing-pager"}
	pager := e.PagerStage(PagerPolicy{Fallbacks: []string{"procshell-missing-less", "procshell-missing-more"}})

	done := make(chan []Result, 1)
	go func() {
		results, err := e.RunPipeline(EnvListing(pager))
		assert.NoError(t, err)
		done <- results
	}()

	select {
	case results := <-done:
		require.Len(t, results, 3)
		assert.Equal(t, ExecFailedStatus, results[2].ExitCode)
		assert.Equal(t, 0, results[2].Pid)
		assert.Equal(t, 1, logs.FilterMessage("pipeline stage not executable").Len())
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline hung with an unexecutable pager")
	}
}

func TestRunPipelineEmpty(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	_, err := e.RunPipeline(nil)
	assert.ErrorIs(t, err, ErrEmptyPipeline)
}

func TestRunPipelineSingleStage(t *testing.T) {
	e, out, _ := newTestExecutor(t)
	results, err := e.RunPipeline(Pipeline{Single(MustCommand("echo", "hi"))})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hi\n", out.String())
}

func TestRunPipelineUpstreamSeesEOF(t *testing.T) {
	// wc only finishes once every write end of its input is closed.
	e, out, _ := newTestExecutor(t)
	p := Pipeline{
		Single(MustCommand("printf", "a\nb\nc\n")),
		Single(MustCommand("cat")),
		Single(MustCommand("wc", "-l")),
	}
	results, err := e.RunPipeline(p)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "3", strings.TrimSpace(out.String()))
}
