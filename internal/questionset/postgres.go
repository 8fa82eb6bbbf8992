package questionset

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/trivia/internal/domain"
)

type PostgresConfig struct {
	DB *pgxpool.Pool
}

// Postgres reads question sets from the question_sets and questions tables.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(c PostgresConfig) *Postgres {
	return &Postgres{
		db: c.DB,
	}
}

func (s *Postgres) List(ctx context.Context) ([]domain.QuestionSet, error) {
	const stmt = `
SELECT name, description, owner, create_time
FROM question_sets
ORDER BY name;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("list question sets: %w", err)
	}

	sets, err := pgx.CollectRows(rows, scanSet)
	if err != nil {
		return nil, fmt.Errorf("list question sets: %w", err)
	}

	return sets, nil
}

func (s *Postgres) Metadata(ctx context.Context, name string) (domain.QuestionSet, error) {
	const stmt = `
SELECT name, description, owner, create_time
FROM question_sets
WHERE name = $1;`

	rows, err := s.db.Query(ctx, stmt, name)
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("get question set %s: %w", name, err)
	}

	set, err := pgx.CollectExactlyOneRow(rows, scanSet)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionSet{}, notFound(name)
	}
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("get question set %s: %w", name, err)
	}

	return set, nil
}

func (s *Postgres) Questions(ctx context.Context, name string) ([]domain.Question, error) {
	if _, err := s.Metadata(ctx, name); err != nil {
		return nil, err
	}

	const stmt = `
SELECT prompt, COALESCE(image_url, ''), options, correct
FROM questions
WHERE set_name = $1
ORDER BY position;`

	rows, err := s.db.Query(ctx, stmt, name)
	if err != nil {
		return nil, fmt.Errorf("list questions of %s: %w", name, err)
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var (
			q       domain.Question
			correct []int32
		)
		if err := r.Scan(&q.Prompt, &q.ImageURL, &q.Options, &correct); err != nil {
			return domain.Question{}, err
		}

		q.Correct = make([]int, 0, len(correct))
		for _, c := range correct {
			q.Correct = append(q.Correct, int(c))
		}
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list questions of %s: %w", name, err)
	}

	return qs, nil
}

func scanSet(r pgx.CollectableRow) (domain.QuestionSet, error) {
	var set domain.QuestionSet
	if err := r.Scan(&set.Name, &set.Description, &set.Owner, &set.CreateTime); err != nil {
		return domain.QuestionSet{}, err
	}
	return set, nil
}
