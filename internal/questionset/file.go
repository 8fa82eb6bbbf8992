package questionset

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/victornm/trivia/internal/domain"
)

type (
	fileSets struct {
		Sets []fileSet `yaml:"sets"`
	}

	fileSet struct {
		Name        string         `yaml:"name"`
		Description string         `yaml:"description"`
		Owner       string         `yaml:"owner"`
		CreateTime  time.Time      `yaml:"create_time"`
		Questions   []fileQuestion `yaml:"questions"`
	}

	fileQuestion struct {
		Prompt   string   `yaml:"prompt"`
		ImageURL string   `yaml:"image_url"`
		Options  []string `yaml:"options"`
		Correct  []int    `yaml:"correct"`
	}
)

// File is a Store loaded once from a YAML document.
type File struct {
	sets      map[string]domain.QuestionSet
	questions map[string][]domain.Question
}

// LoadFile reads and validates the question sets in path.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question sets: %w", err)
	}

	return ParseFile(b)
}

// ParseFile parses and validates question sets from a YAML document.
func ParseFile(b []byte) (*File, error) {
	var doc fileSets
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse question sets: %w", err)
	}

	f := &File{
		sets:      make(map[string]domain.QuestionSet, len(doc.Sets)),
		questions: make(map[string][]domain.Question, len(doc.Sets)),
	}

	for _, fs := range doc.Sets {
		set := domain.QuestionSet{
			Name:        strings.TrimSpace(fs.Name),
			Description: fs.Description,
			Owner:       fs.Owner,
			CreateTime:  fs.CreateTime,
		}

		qs := make([]domain.Question, 0, len(fs.Questions))
		for _, fq := range fs.Questions {
			qs = append(qs, domain.Question{
				Prompt:   fq.Prompt,
				ImageURL: fq.ImageURL,
				Options:  fq.Options,
				Correct:  fq.Correct,
			})
		}

		if err := Validate(set, qs); err != nil {
			return nil, err
		}
		if _, ok := f.sets[set.Name]; ok {
			return nil, fmt.Errorf("set %q: defined twice", set.Name)
		}

		f.sets[set.Name] = set
		f.questions[set.Name] = qs
	}

	return f, nil
}

func (f *File) List(_ context.Context) ([]domain.QuestionSet, error) {
	sets := make([]domain.QuestionSet, 0, len(f.sets))
	for _, s := range f.sets {
		sets = append(sets, s)
	}

	slices.SortFunc(sets, func(a, b domain.QuestionSet) int {
		return strings.Compare(a.Name, b.Name)
	})
	return sets, nil
}

func (f *File) Metadata(_ context.Context, name string) (domain.QuestionSet, error) {
	s, ok := f.sets[name]
	if !ok {
		return domain.QuestionSet{}, notFound(name)
	}
	return s, nil
}

// Questions returns a copy, callers may reorder it.
func (f *File) Questions(_ context.Context, name string) ([]domain.Question, error) {
	qs, ok := f.questions[name]
	if !ok {
		return nil, notFound(name)
	}
	return slices.Clone(qs), nil
}
