package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/tradepulse/go-auth"
	"github.com/uptrace/bun"
)

// ProfileRepository implements auth.ProfileStore on a go-repository-bun
// repository.
type ProfileRepository struct {
	db   *bun.DB
	rows repository.Repository[*auth.ProfileRow]
	now  func() time.Time
}

var _ auth.ProfileStore = (*ProfileRepository)(nil)

// Option customizes the repository.
type Option func(*ProfileRepository)

// WithClock injects a custom clock for the timestamp columns.
func WithClock(clock func() time.Time) Option {
	return func(r *ProfileRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewProfilesRepository builds the generic repository for profile rows.
// Provider ids are kept as given; a generated id is only used for rows
// inserted without one.
func NewProfilesRepository(db *bun.DB) repository.Repository[*auth.ProfileRow] {
	return repository.NewRepository[*auth.ProfileRow](db, repository.ModelHandlers[*auth.ProfileRow]{
		NewRecord: func() *auth.ProfileRow { return &auth.ProfileRow{} },
		GetID: func(row *auth.ProfileRow) uuid.UUID {
			if row == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(row.ID)
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(row *auth.ProfileRow, id uuid.UUID) {
			if row != nil && row.ID == "" {
				row.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

// NewProfileRepository creates a new repository.
func NewProfileRepository(db *bun.DB, opts ...Option) *ProfileRepository {
	r := &ProfileRepository{
		db:   db,
		rows: NewProfilesRepository(db),
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// CreateSchema creates the profiles table when it does not exist.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*auth.ProfileRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create profiles table")
	}
	return nil
}

// GetByID implements auth.ProfileStore. A missing row is nil, nil.
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*auth.ProfileRow, error) {
	row, err := r.rows.GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

// Insert implements auth.ProfileStore. A duplicate id maps to
// auth.ErrProfileExists.
func (r *ProfileRepository) Insert(ctx context.Context, row *auth.ProfileRow) (*auth.ProfileRow, error) {
	if row == nil {
		return nil, goerrors.New("profile row is required", goerrors.CategoryBadInput)
	}

	now := r.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.Role == "" {
		row.Role = auth.RoleUser
	}

	created, err := r.rows.CreateTx(ctx, r.db, row)
	if err != nil {
		if auth.IsUniqueViolation(err) {
			exists := auth.ErrProfileExists.Clone()
			exists.Source = err
			exists.WithMetadata(map[string]any{"id": row.ID})
			return nil, exists
		}
		return nil, err
	}
	if created == nil {
		created = row
	}
	return created, nil
}

// Update implements auth.ProfileStore. Only the non nil patch fields are
// changed; the row is read and written back in one transaction.
func (r *ProfileRepository) Update(ctx context.Context, id string, patch auth.ProfilePatch) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := r.rows.GetByIDTx(ctx, tx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
				return auth.ErrProfileNotFound
			}
			return err
		}

		applyPatch(row, patch)
		row.UpdatedAt = r.now().UTC()

		_, err = r.rows.UpdateTx(ctx, tx, row, repository.UpdateByID(id))
		return err
	})
}

func applyPatch(row *auth.ProfileRow, patch auth.ProfilePatch) {
	if patch.Name != nil {
		row.Name = *patch.Name
	}
	if patch.Company != nil {
		row.Company = *patch.Company
	}
	if patch.Industry != nil {
		row.Industry = auth.NormalizeIndustry(*patch.Industry)
	}
	if patch.Country != nil {
		row.Country = *patch.Country
	}
	if patch.Role != nil {
		row.Role = auth.NormalizeRole(*patch.Role)
	}
	if patch.Metadata != nil {
		row.Metadata = patch.Metadata
	}
}
