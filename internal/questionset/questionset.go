// Package questionset reads the named question sets games are played with.
package questionset

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
)

const (
	MaxNameLength        = 60
	MaxDescriptionLength = 300
	MaxQuestions         = 2000
	MaxOptionLength      = 100
)

// Store is a read-only source of question sets.
type Store interface {
	// List returns the metadata of every set, sorted by name.
	List(ctx context.Context) ([]domain.QuestionSet, error)
	Metadata(ctx context.Context, name string) (domain.QuestionSet, error)
	// Questions returns the questions of a set in their stored order.
	Questions(ctx context.Context, name string) ([]domain.Question, error)
}

// Validate checks a set and its questions against the authoring limits.
func Validate(set domain.QuestionSet, qs []domain.Question) error {
	if set.Name == "" || utf8.RuneCountInString(set.Name) > MaxNameLength {
		return fmt.Errorf("set %q: name must have 1..%d characters", set.Name, MaxNameLength)
	}
	if utf8.RuneCountInString(set.Description) > MaxDescriptionLength {
		return fmt.Errorf("set %q: description longer than %d characters", set.Name, MaxDescriptionLength)
	}
	if len(qs) == 0 || len(qs) > MaxQuestions {
		return fmt.Errorf("set %q: want 1..%d questions, got %d", set.Name, MaxQuestions, len(qs))
	}

	for i, q := range qs {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("set %q: question %d: %w", set.Name, i+1, err)
		}
		for _, o := range q.Options {
			if utf8.RuneCountInString(o) > MaxOptionLength {
				return fmt.Errorf("set %q: question %d: option longer than %d characters", set.Name, i+1, MaxOptionLength)
			}
		}
	}

	return nil
}

func notFound(name string) error {
	return errors.New(errors.CodeNotFound, errors.WithMessagef("question set not found: name=%s", name))
}
