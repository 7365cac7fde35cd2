package webauth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConsumeTokenSQL removes a confirmation token in a single conditional
// statement. With concurrent submissions exactly one delete returns a
// row; every other caller sees nothing removed.
var ConsumeTokenSQL = `DELETE FROM "tokens"
WHERE
	"subject" = ?
AND
	"token" = ?
RETURNING *;`

type Tokens interface {
	repository.Repository[*Token]

	GetBySubjectToken(ctx context.Context, subject, token string) (*Token, error)
	GetBySubjectTokenTx(ctx context.Context, tx bun.IDB, subject, token string) (*Token, error)

	Create(ctx context.Context, record *Token, criteria ...repository.InsertCriteria) (*Token, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Token, criteria ...repository.InsertCriteria) (*Token, error)

	Consume(ctx context.Context, subject, token string) (bool, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, subject, token string) (bool, error)
}

type tokens struct {
	repository.Repository[*Token]
	db *bun.DB
}

var (
	_ Tokens                        = (*tokens)(nil)
	_ repository.Repository[*Token] = (*tokens)(nil)
)

func NewTokensRepository(db *bun.DB) Tokens {
	repo := repository.NewRepository[*Token](db, repository.ModelHandlers[*Token]{
		NewRecord: func() *Token { return &Token{} },
		GetID: func(t *Token) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *Token, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token"
		},
	})

	return &tokens{
		Repository: repo,
		db:         db,
	}
}

func (a *tokens) GetBySubjectToken(ctx context.Context, subject, token string) (*Token, error) {
	return a.GetBySubjectTokenTx(ctx, a.db, subject, token)
}

func (a *tokens) GetBySubjectTokenTx(ctx context.Context, tx bun.IDB, subject, token string) (*Token, error) {
	record := &Token{}

	err := tx.NewSelect().
		Model(record).
		Relation("User").
		Where("?TableAlias.subject = ?", subject).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"subject": subject,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *tokens) Create(ctx context.Context, record *Token, criteria ...repository.InsertCriteria) (*Token, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *tokens) CreateTx(ctx context.Context, tx bun.IDB, record *Token, criteria ...repository.InsertCriteria) (*Token, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	token, err := a.Repository.CreateTx(ctx, tx, record, criteria...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDuplicateError(err, "confirmation token already issued")
		}
		return nil, err
	}

	return token, nil
}

// Consume removes the (subject, token) row and reports whether this
// caller won the removal. Removing an absent token is not an error.
func (a *tokens) Consume(ctx context.Context, subject, token string) (bool, error) {
	return a.ConsumeTx(ctx, a.db, subject, token)
}

func (a *tokens) ConsumeTx(ctx context.Context, tx bun.IDB, subject, token string) (bool, error) {
	res, err := a.Repository.RawTx(ctx, tx, ConsumeTokenSQL, subject, token)
	if err != nil {
		return false, err
	}

	return len(res) > 0, nil
}
