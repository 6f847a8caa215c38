package predictions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/mbd888/cardiorisk/internal/pagination"
	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/risk"
)

var recordColumns = []string{
	"id", "session_id",
	"age", "gender", "height", "weight", "ap_hi", "ap_lo",
	"cholesterol", "gluc", "smoke", "alco", "active",
	"prediction", "confidence", "probability", "risk_label", "bmi", "source",
	"ml_insights", "user_agent", "created_at",
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db   *sql.DB
	psql sq.StatementBuilderType
}

// NewPostgresStore creates a PostgreSQL-backed predictions store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:   db,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

// Migrate creates the predictions table when the goose migrations have not
// been applied.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS predictions (
			id           BIGSERIAL PRIMARY KEY,
			session_id   VARCHAR(36) NOT NULL UNIQUE,
			age          INTEGER NOT NULL,
			gender       SMALLINT NOT NULL,
			height       INTEGER NOT NULL,
			weight       INTEGER NOT NULL,
			ap_hi        INTEGER NOT NULL,
			ap_lo        INTEGER NOT NULL,
			cholesterol  SMALLINT NOT NULL,
			gluc         SMALLINT NOT NULL,
			smoke        BOOLEAN NOT NULL,
			alco         BOOLEAN NOT NULL,
			active       BOOLEAN NOT NULL,
			prediction   SMALLINT NOT NULL,
			confidence   SMALLINT NOT NULL,
			probability  DOUBLE PRECISION NOT NULL,
			risk_label   VARCHAR(20) NOT NULL,
			bmi          NUMERIC(5,1),
			source       VARCHAR(16) NOT NULL,
			ml_insights  JSONB,
			user_agent   TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_predictions_risk ON predictions(prediction);
		CREATE INDEX IF NOT EXISTS idx_predictions_gender ON predictions(gender);
	`)
	return err
}

// Save inserts rec and returns it with the database-assigned id and created_at.
func (p *PostgresStore) Save(ctx context.Context, rec *Record) (*Record, error) {
	var insights []byte
	if rec.Insights != nil {
		b, err := json.Marshal(rec.Insights)
		if err != nil {
			return nil, &PersistError{Op: "save", Err: err}
		}
		insights = b
	}

	var bmi sql.NullFloat64
	if rec.BMI != nil {
		bmi = sql.NullFloat64{Float64: *rec.BMI, Valid: true}
	}

	stored := cloneRecord(rec)
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO predictions (
			session_id, age, gender, height, weight, ap_hi, ap_lo,
			cholesterol, gluc, smoke, alco, active,
			prediction, confidence, probability, risk_label, bmi, source,
			ml_insights, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at
	`,
		rec.SessionID, rec.Age, int(rec.Gender), rec.HeightCm, rec.WeightKg, rec.SystolicBP, rec.DiastolicBP,
		int(rec.Cholesterol), int(rec.Glucose), rec.Smoker, rec.AlcoholUse, rec.PhysicallyActive,
		rec.Risk, rec.Confidence, rec.Probability, rec.RiskLabel, bmi, string(rec.Source),
		nullBytes(insights), nullString(rec.UserAgent),
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, &PersistError{Op: "save", Err: err}
	}
	return stored, nil
}

// List returns one page of matching records ordered by created_at DESC, id DESC.
func (p *PostgresStore) List(ctx context.Context, f Filter, pg pagination.Params) ([]*Record, int, error) {
	pg = pg.Normalize()
	where := filterClause(f)

	countQ := p.psql.Select("COUNT(*)").From("predictions")
	if len(where) > 0 {
		countQ = countQ.Where(where)
	}
	query, args, err := countQ.ToSql()
	if err != nil {
		return nil, 0, &PersistError{Op: "list", Err: err}
	}
	var total int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, &PersistError{Op: "count", Err: err}
	}

	pageQ := p.psql.Select(recordColumns...).From("predictions")
	if len(where) > 0 {
		pageQ = pageQ.Where(where)
	}
	query, args, err = pageQ.
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(pg.Limit)).
		Offset(uint64(pg.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, &PersistError{Op: "list", Err: err}
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, &PersistError{Op: "list", Err: err}
	}
	defer rows.Close()

	records := make([]*Record, 0, pg.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, &PersistError{Op: "list", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &PersistError{Op: "list", Err: err}
	}
	return records, total, nil
}

// Summaries returns the aggregation fields of every record.
func (p *PostgresStore) Summaries(ctx context.Context) ([]Summary, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT prediction, gender, age, bmi, source FROM predictions`)
	if err != nil {
		return nil, &PersistError{Op: "summaries", Err: err}
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s      Summary
			gender int
			bmi    sql.NullFloat64
			source string
		)
		if err := rows.Scan(&s.Risk, &gender, &s.Age, &bmi, &source); err != nil {
			return nil, &PersistError{Op: "summaries", Err: err}
		}
		s.Gender = patient.Gender(gender)
		s.Source = risk.Source(source)
		if bmi.Valid {
			v := bmi.Float64
			s.BMI = &v
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistError{Op: "summaries", Err: err}
	}
	return out, nil
}

// Check implements health.Checker.
func (p *PostgresStore) Check(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func filterClause(f Filter) sq.Eq {
	eq := sq.Eq{}
	if f.Risk != nil {
		eq["prediction"] = *f.Risk
	}
	if f.Gender != nil {
		eq["gender"] = int(*f.Gender)
	}
	return eq
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec                Record
		gender, chol, gluc int
		bmi                sql.NullFloat64
		source             string
		insights           []byte
		userAgent          sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.SessionID,
		&rec.Age, &gender, &rec.HeightCm, &rec.WeightKg, &rec.SystolicBP, &rec.DiastolicBP,
		&chol, &gluc, &rec.Smoker, &rec.AlcoholUse, &rec.PhysicallyActive,
		&rec.Risk, &rec.Confidence, &rec.Probability, &rec.RiskLabel, &bmi, &source,
		&insights, &userAgent, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Gender = patient.Gender(gender)
	rec.Cholesterol = patient.Level(chol)
	rec.Glucose = patient.Level(gluc)
	rec.Source = risk.Source(source)
	rec.UserAgent = userAgent.String
	if bmi.Valid {
		v := bmi.Float64
		rec.BMI = &v
	}
	if len(insights) > 0 {
		var in risk.Insights
		if err := json.Unmarshal(insights, &in); err != nil {
			return nil, fmt.Errorf("decode ml_insights: %w", err)
		}
		rec.Insights = &in
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
