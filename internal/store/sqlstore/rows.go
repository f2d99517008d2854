package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"releasedesk/internal/domain"
)

const projectColumns = `id,country,segment,status,current_round,rounds,awaiting_confirmation,confirmed_at,model_ids,created_at,updated_at`

type projectRow struct {
	ID                   string         `db:"id"`
	Country              string         `db:"country"`
	Segment              string         `db:"segment"`
	Status               string         `db:"status"`
	CurrentRound         int            `db:"current_round"`
	Rounds               string         `db:"rounds"`
	AwaitingConfirmation bool           `db:"awaiting_confirmation"`
	ConfirmedAt          sql.NullString `db:"confirmed_at"`
	ModelIDs             sql.NullString `db:"model_ids"`
	CreatedAt            string         `db:"created_at"`
	UpdatedAt            string         `db:"updated_at"`
}

func (r projectRow) project() (domain.Project, error) {
	p := domain.Project{
		ID:        r.ID,
		Country:   r.Country,
		Segment:   domain.Segment(r.Segment),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	p.Status = domain.Status(r.Status)
	p.CurrentRound = r.CurrentRound
	p.AwaitingConfirmation = r.AwaitingConfirmation
	p.ConfirmedAt = nullString(r.ConfirmedAt)
	if err := json.Unmarshal([]byte(r.Rounds), &p.Rounds); err != nil {
		return p, fmt.Errorf("decode rounds of project %s: %w", r.ID, err)
	}
	if r.ModelIDs.Valid {
		var ids domain.ModelIDs
		if err := json.Unmarshal([]byte(r.ModelIDs.String), &ids); err != nil {
			return p, fmt.Errorf("decode model ids of project %s: %w", r.ID, err)
		}
		p.ModelIDs = &ids
	}
	return p, nil
}

func projectArgs(p domain.Project) ([]any, error) {
	rounds, err := json.Marshal(p.Rounds)
	if err != nil {
		return nil, err
	}
	var ids sql.NullString
	if p.ModelIDs != nil {
		data, err := json.Marshal(p.ModelIDs)
		if err != nil {
			return nil, err
		}
		ids = sql.NullString{String: string(data), Valid: true}
	}
	return []any{p.Country, string(p.Segment), string(p.Status), p.CurrentRound, string(rounds),
		p.AwaitingConfirmation, nullable(p.ConfirmedAt), ids, p.CreatedAt, p.UpdatedAt}, nil
}

func (s *Store) listProjects(ctx context.Context, q sqlx.QueryerContext) ([]domain.Project, error) {
	var rows []projectRow
	if err := sqlx.SelectContext(ctx, q, &rows, s.q(`SELECT `+projectColumns+` FROM projects ORDER BY seq`)); err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(rows))
	for _, r := range rows {
		p, err := r.project()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) getProject(ctx context.Context, q sqlx.QueryerContext, id string) (domain.Project, error) {
	var row projectRow
	if err := sqlx.GetContext(ctx, q, &row, s.q(`SELECT `+projectColumns+` FROM projects WHERE id=?`), id); err != nil {
		return domain.Project{}, err
	}
	return row.project()
}

func (s *Store) insertProject(ctx context.Context, tx *sqlx.Tx, p domain.Project) error {
	args, err := projectArgs(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		append([]any{p.ID}, args...)...)
	return err
}

func (s *Store) replaceProject(ctx context.Context, tx *sqlx.Tx, p domain.Project) error {
	args, err := projectArgs(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(`UPDATE projects SET country=?,segment=?,status=?,current_round=?,rounds=?,
awaiting_confirmation=?,confirmed_at=?,model_ids=?,created_at=?,updated_at=? WHERE id=?`),
		append(args, p.ID)...)
	return err
}

const releaseColumns = `id,version,target_date,completed,created_at,updated_at`

type releaseRow struct {
	ID         string `db:"id"`
	Version    string `db:"version"`
	TargetDate string `db:"target_date"`
	Completed  bool   `db:"completed"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func (r releaseRow) release() domain.Release {
	return domain.Release{
		ID:         r.ID,
		Version:    r.Version,
		TargetDate: r.TargetDate,
		Completed:  r.Completed,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

const modelColumns = `id,release_id,position,country,segment,included,confirmed,status,current_round,rounds,
awaiting_confirmation,confirmed_at,model_out_id,model_in_id,rules_out_id,rules_in_id`

type modelRow struct {
	ID                   string         `db:"id"`
	ReleaseID            string         `db:"release_id"`
	Position             int            `db:"position"`
	Country              string         `db:"country"`
	Segment              string         `db:"segment"`
	Included             bool           `db:"included"`
	Confirmed            bool           `db:"confirmed"`
	Status               string         `db:"status"`
	CurrentRound         int            `db:"current_round"`
	Rounds               string         `db:"rounds"`
	AwaitingConfirmation bool           `db:"awaiting_confirmation"`
	ConfirmedAt          sql.NullString `db:"confirmed_at"`
	ModelOut             sql.NullString `db:"model_out_id"`
	ModelIn              sql.NullString `db:"model_in_id"`
	RulesOut             sql.NullString `db:"rules_out_id"`
	RulesIn              sql.NullString `db:"rules_in_id"`
}

func (r modelRow) model() (domain.ReleaseModel, error) {
	m := domain.ReleaseModel{
		ID:        r.ID,
		Country:   r.Country,
		Segment:   domain.Segment(r.Segment),
		Included:  r.Included,
		Confirmed: r.Confirmed,
	}
	m.Status = domain.Status(r.Status)
	m.CurrentRound = r.CurrentRound
	m.AwaitingConfirmation = r.AwaitingConfirmation
	m.ConfirmedAt = nullString(r.ConfirmedAt)
	if err := json.Unmarshal([]byte(r.Rounds), &m.Rounds); err != nil {
		return m, fmt.Errorf("decode rounds of model %s: %w", r.ID, err)
	}
	ids := domain.ModelIDs{
		ModelOut: nullString(r.ModelOut),
		ModelIn:  nullString(r.ModelIn),
		RulesOut: nullString(r.RulesOut),
		RulesIn:  nullString(r.RulesIn),
	}
	if !ids.Empty() {
		m.ModelIDs = &ids
	}
	return m, nil
}

func (s *Store) loadModels(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) (map[string][]domain.ReleaseModel, error) {
	var rows []modelRow
	query := `SELECT ` + modelColumns + ` FROM release_models ` + where + ` ORDER BY release_id, position`
	if err := sqlx.SelectContext(ctx, q, &rows, s.q(query), args...); err != nil {
		return nil, err
	}
	out := map[string][]domain.ReleaseModel{}
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, err
		}
		out[r.ReleaseID] = append(out[r.ReleaseID], m)
	}
	return out, nil
}

// modelsFor keeps an empty release's models as [] so it reads back the way
// it was created.
func modelsFor(models map[string][]domain.ReleaseModel, releaseID string) []domain.ReleaseModel {
	if m, ok := models[releaseID]; ok {
		return m
	}
	return []domain.ReleaseModel{}
}

func (s *Store) listReleases(ctx context.Context, q sqlx.QueryerContext) ([]domain.Release, error) {
	var rows []releaseRow
	if err := sqlx.SelectContext(ctx, q, &rows, s.q(`SELECT `+releaseColumns+` FROM releases ORDER BY seq`)); err != nil {
		return nil, err
	}
	models, err := s.loadModels(ctx, q, "")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Release, 0, len(rows))
	for _, r := range rows {
		rel := r.release()
		rel.Models = modelsFor(models, r.ID)
		out = append(out, rel)
	}
	return out, nil
}

func (s *Store) getRelease(ctx context.Context, q sqlx.QueryerContext, id string) (domain.Release, error) {
	var row releaseRow
	if err := sqlx.GetContext(ctx, q, &row, s.q(`SELECT `+releaseColumns+` FROM releases WHERE id=?`), id); err != nil {
		return domain.Release{}, err
	}
	models, err := s.loadModels(ctx, q, "WHERE release_id=?", id)
	if err != nil {
		return domain.Release{}, err
	}
	rel := row.release()
	rel.Models = modelsFor(models, id)
	return rel, nil
}

func (s *Store) insertRelease(ctx context.Context, tx *sqlx.Tx, r domain.Release) error {
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO releases(`+releaseColumns+`) VALUES (?,?,?,?,?,?)`),
		r.ID, r.Version, r.TargetDate, r.Completed, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	return s.insertModels(ctx, tx, r)
}

// replaceRelease rewrites the release row and its model set wholesale.
func (s *Store) replaceRelease(ctx context.Context, tx *sqlx.Tx, r domain.Release) error {
	_, err := tx.ExecContext(ctx, s.q(`UPDATE releases SET version=?,target_date=?,completed=?,created_at=?,updated_at=? WHERE id=?`),
		r.Version, r.TargetDate, r.Completed, r.CreatedAt, r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM release_models WHERE release_id=?`), r.ID); err != nil {
		return err
	}
	return s.insertModels(ctx, tx, r)
}

func (s *Store) insertModels(ctx context.Context, tx *sqlx.Tx, r domain.Release) error {
	query := s.q(`INSERT INTO release_models(` + modelColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	for i, m := range r.Models {
		rounds, err := json.Marshal(m.Rounds)
		if err != nil {
			return err
		}
		var ids domain.ModelIDs
		if m.ModelIDs != nil {
			ids = *m.ModelIDs
		}
		_, err = tx.ExecContext(ctx, query,
			m.ID, r.ID, i, m.Country, string(m.Segment), m.Included, m.Confirmed, string(m.Status), m.CurrentRound,
			string(rounds), m.AwaitingConfirmation, nullable(m.ConfirmedAt),
			nullable(ids.ModelOut), nullable(ids.ModelIn), nullable(ids.RulesOut), nullable(ids.RulesIn))
		if err != nil {
			return fmt.Errorf("insert model %s/%s: %w", m.Country, m.Segment, err)
		}
	}
	return nil
}

const configColumns = `id,key,value,created_at,updated_at`

func (s *Store) listConfig(ctx context.Context, q sqlx.QueryerContext) ([]domain.AppConfigEntry, error) {
	var rows []configRow
	if err := sqlx.SelectContext(ctx, q, &rows, s.q(`SELECT `+configColumns+` FROM app_config ORDER BY seq`)); err != nil {
		return nil, err
	}
	out := make([]domain.AppConfigEntry, len(rows))
	for i, r := range rows {
		out[i] = domain.AppConfigEntry(r)
	}
	return out, nil
}

type configRow struct {
	ID        string `db:"id"`
	Key       string `db:"key"`
	Value     string `db:"value"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (s *Store) getConfig(ctx context.Context, q sqlx.QueryerContext, id string) (domain.AppConfigEntry, error) {
	var row configRow
	if err := sqlx.GetContext(ctx, q, &row, s.q(`SELECT `+configColumns+` FROM app_config WHERE id=?`), id); err != nil {
		return domain.AppConfigEntry{}, err
	}
	return domain.AppConfigEntry(row), nil
}

func (s *Store) insertConfig(ctx context.Context, tx *sqlx.Tx, e domain.AppConfigEntry) error {
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO app_config(`+configColumns+`) VALUES (?,?,?,?,?)`),
		e.ID, e.Key, e.Value, e.CreatedAt, e.UpdatedAt)
	return err
}

func (s *Store) replaceConfig(ctx context.Context, tx *sqlx.Tx, e domain.AppConfigEntry) error {
	_, err := tx.ExecContext(ctx, s.q(`UPDATE app_config SET key=?,value=?,created_at=?,updated_at=? WHERE id=?`),
		e.Key, e.Value, e.CreatedAt, e.UpdatedAt, e.ID)
	return err
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
