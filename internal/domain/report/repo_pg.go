package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medscan/triage/internal/platform/apperr"
	"github.com/medscan/triage/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const reportCols = `id, patient_id, doctor_id, radiologist_id, image_ref, modality, anomalies,
	narrative, findings, recommendations, status, sent_to_patient, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	var anomalies []byte
	err := row.Scan(&rep.ID, &rep.PatientID, &rep.DoctorID, &rep.RadiologistID, &rep.ImageRef, &rep.Modality,
		&anomalies, &rep.Narrative, &rep.Findings, &rep.Recommendations, &rep.Status, &rep.SentToPatient,
		&rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(anomalies, &rep.Anomalies); err != nil {
		return nil, fmt.Errorf("unmarshal anomalies for report %s: %w", rep.ID, err)
	}
	return &rep, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	anomalies, err := json.Marshal(rep.Anomalies)
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}
	rep.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reports (id, patient_id, doctor_id, radiologist_id, image_ref, modality, anomalies,
			narrative, status, sent_to_patient)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
		RETURNING created_at, updated_at`,
		rep.ID, rep.PatientID, rep.DoctorID, rep.RadiologistID, rep.ImageRef, rep.Modality, anomalies,
		rep.Narrative, rep.Status,
	).Scan(&rep.CreatedAt, &rep.UpdatedAt)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	rep, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("report")
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return rep, nil
}

func (r *reportRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error) {
	where, args := filterClause(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reports`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM reports%s
		ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, reportCols, where, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rep)
	}
	return items, total, rows.Err()
}

func filterClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.RadiologistID != nil {
		add("radiologist_id = $%d", *f.RadiologistID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.SentOnly {
		conds = append(conds, "sent_to_patient")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *reportRepoPG) MarkCompleted(ctx context.Context, id uuid.UUID, notes ReviewNotes) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reports
		SET status = 'completed',
			findings = COALESCE($2, findings),
			recommendations = COALESCE($3, recommendations),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, notes.Findings, notes.Recommendations)
	if err != nil {
		return false, fmt.Errorf("mark report completed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reportRepoPG) MarkSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reports SET sent_to_patient = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'completed' AND NOT sent_to_patient`, id)
	if err != nil {
		return false, fmt.Errorf("mark report sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
