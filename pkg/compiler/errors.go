package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

var (
	ErrEmptyCondition   = errors.New("conditional requires at least one condition")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnknownFilter    = errors.New("unknown filter")
	ErrUnknownPartial   = errors.New("unknown partial")
	ErrMaxDepth         = errors.New("maximum partial depth exceeded")
	ErrSealed           = errors.New("template is sealed")
)

// unknownError reports a missing registry entry, suggesting the closest
// registered name when there is one.
func unknownError(sentinel error, name string, candidates []string) error {
	if s := closestMatch(name, candidates); s != "" {
		return fmt.Errorf("%w %q (did you mean %q?)", sentinel, name, s)
	}
	return fmt.Errorf("%w %q", sentinel, name)
}

func closestMatch(target string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) == 0 {
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}
