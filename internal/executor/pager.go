package executor

import "strings"

// DefaultPagerEnv names the variable that overrides the pager.
const DefaultPagerEnv = "PAGER"

// DefaultPagers are tried in order when the override is unset or unusable.
var DefaultPagers = []string{"less", "more"}

// PagerPolicy selects the program for the last stage of the environment
// listing pipelines.
type PagerPolicy struct {
	// EnvVar is read from the executor's environment. Its value is split on
	// whitespace so "less -R" works.
	EnvVar    string
	Fallbacks []string
}

// PagerStage builds the pager stage: the override first, then each fallback.
func (e *Executor) PagerStage(p PagerPolicy) Stage {
	if p.EnvVar == "" {
		p.EnvVar = DefaultPagerEnv
	}
	if p.Fallbacks == nil {
		p.Fallbacks = DefaultPagers
	}

	var stage Stage
	if override := strings.Fields(e.Getenv(p.EnvVar)); len(override) > 0 {
		stage.Candidates = append(stage.Candidates, MustCommand(override...))
	}
	for _, name := range p.Fallbacks {
		if c, err := NewCommand(strings.Fields(name)...); err == nil {
			stage.Candidates = append(stage.Candidates, c)
		}
	}
	return stage
}
