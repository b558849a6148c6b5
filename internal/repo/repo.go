package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bidline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type rowScanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id,owner,descriptor_url,price,state,assignee,escrowed_amount,solution_url,created_at,updated_at`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var state string
	var assignee, solutionURL sql.NullString
	var escrowed sql.NullInt64
	err := row.Scan(&p.ID, &p.Owner, &p.DescriptorURL, &p.Price, &state, &assignee, &escrowed, &solutionURL, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	var assigneePtr, solutionPtr *string
	var escrowPtr *uint64
	if assignee.Valid {
		assigneePtr = &assignee.String
	}
	if solutionURL.Valid {
		solutionPtr = &solutionURL.String
	}
	if escrowed.Valid {
		amt := uint64(escrowed.Int64)
		escrowPtr = &amt
	}
	phase, err := domain.PhaseFromColumns(domain.State(state), assigneePtr, escrowPtr, solutionPtr)
	if err != nil {
		return p, fmt.Errorf("project %s: %w", p.ID, err)
	}
	p.Phase = phase
	return p, nil
}

// phaseColumns flattens a phase into its nullable storage columns.
func phaseColumns(ph domain.Phase) (state string, assignee, escrowed, solutionURL any) {
	switch v := ph.(type) {
	case domain.Assigned:
		return string(v.State()), v.Assignee, int64(v.Escrowed), nil
	case domain.SolutionSubmitted:
		return string(v.State()), v.Assignee, int64(v.Escrowed), v.SolutionURL
	case domain.Completed:
		return string(v.State()), nil, nil, nil
	}
	return string(domain.StateOpen), nil, nil, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	state, assignee, escrowed, solution := phaseColumns(p.Phase)
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Owner, p.DescriptorURL, int64(p.Price), state, assignee, escrowed, solution, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateProject
	}
	return err
}

// UpdateProjectPhase persists a phase change. Owner, descriptor and price never
// change after posting.
func (r Repo) UpdateProjectPhase(ctx context.Context, tx *sql.Tx, id string, ph domain.Phase, updatedAt string) error {
	state, assignee, escrowed, solution := phaseColumns(ph)
	res, err := tx.ExecContext(ctx, `UPDATE projects SET state=?, assignee=?, escrowed_amount=?, solution_url=?, updated_at=? WHERE id=?`,
		state, assignee, escrowed, solution, updatedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

type ProjectFilters struct {
	Owner           string
	State           string
	Assignee        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Owner != "" {
		clauses = append(clauses, "owner=?")
		args = append(args, f.Owner)
	}
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee=?")
		args = append(args, f.Assignee)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertOffer(ctx context.Context, tx *sql.Tx, o domain.Offer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO offers(project_id,offerer,offer_url,price,created_at) VALUES (?,?,?,?,?)`,
		o.ProjectID, o.Offerer, o.OfferURL, int64(o.Price), o.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateOffer
	}
	return err
}

func scanOffer(row rowScanner) (domain.Offer, error) {
	var o domain.Offer
	err := row.Scan(&o.ProjectID, &o.Offerer, &o.OfferURL, &o.Price, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) GetOfferTx(ctx context.Context, tx *sql.Tx, projectID, offerer string) (domain.Offer, error) {
	return scanOffer(tx.QueryRowContext(ctx, `SELECT project_id,offerer,offer_url,price,created_at FROM offers WHERE project_id=? AND offerer=?`, projectID, offerer))
}

// ListOffers returns a project's offers in placement order.
func (r Repo) ListOffers(ctx context.Context, projectID string) ([]domain.Offer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,offerer,offer_url,price,created_at FROM offers WHERE project_id=? ORDER BY rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) CountProjectsByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state, COUNT(*) FROM projects GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		res[state] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
