package repository

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

type WeightRepo struct {
	db *DB
}

func NewWeightRepo(db *DB) *WeightRepo {
	return &WeightRepo{db: db}
}

// Seed inserts weights that are not present yet. Existing rows are left
// untouched so repeated seeding is harmless.
func (r *WeightRepo) Seed(ctx context.Context, weights []domain.HypothesisWeight) (int, error) {
	inserted := 0
	err := r.db.WithTx(ctx, func(tx *Tx) error {
		for _, w := range weights {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO hypothesis_weights (hypothesis_type, source_name, weight) VALUES (?,?,?)
				ON CONFLICT DO NOTHING`,
				w.HypothesisType, w.SourceName, w.Weight,
			)
			if err != nil {
				return eris.Wrapf(err, "seed weight %s", w.HypothesisType)
			}
			ra, _ := res.RowsAffected()
			inserted += int(ra)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// List returns all weights ordered by type then source name, the source-agnostic
// row ("") first.
func (r *WeightRepo) List(ctx context.Context) ([]domain.HypothesisWeight, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT hypothesis_type, source_name, weight FROM hypothesis_weights ORDER BY hypothesis_type, source_name",
	)
	if err != nil {
		return nil, eris.Wrap(err, "query weights")
	}
	defer rows.Close()

	var weights []domain.HypothesisWeight
	for rows.Next() {
		var w domain.HypothesisWeight
		if err := rows.Scan(&w.HypothesisType, &w.SourceName, &w.Weight); err != nil {
			return nil, eris.Wrap(err, "scan weight")
		}
		weights = append(weights, w)
	}
	return weights, eris.Wrap(rows.Err(), "iterate weights")
}
