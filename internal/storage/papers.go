package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultPapersPerPage is the listing page size.
const DefaultPapersPerPage = 10

// MaxPapersPerPage caps PaperQuery.PerPage.
const MaxPapersPerPage = 100

// sortable maps accepted sort keys to ORDER BY clauses.
var sortable = map[string]string{
	"id":          "id",
	"year_name":   "year_name, id",
	"semester_no": "semester_no, id",
	"paper_year":  "paper_year, id",
}

const paperColumns = `id, year_name, semester_no, subject_name, subject_code, paper_type, paper_year, created_at`

// CreatePaper stores a new paper and returns its id.
func (s *Storage) CreatePaper(ctx context.Context, in PaperInput) (int64, error) {
	if len(in.File) == 0 {
		return 0, errors.New("create paper: empty file")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO papers (year_name, semester_no, subject_name, subject_code, paper_type, paper_year, file_data, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, in.YearName, in.SemesterNo, in.SubjectName, in.SubjectCode, in.PaperType, nullableInt(in.PaperYear), in.File,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("create paper: %w", err)
	}
	return res.LastInsertId()
}

// UpdatePaper replaces a paper's metadata, and its PDF when in.File is set.
func (s *Storage) UpdatePaper(ctx context.Context, id int64, in PaperInput) error {
	var res sql.Result
	var err error
	if len(in.File) > 0 {
		res, err = s.db.ExecContext(ctx, `
UPDATE papers SET year_name = ?, semester_no = ?, subject_name = ?, subject_code = ?, paper_type = ?, paper_year = ?, file_data = ?
WHERE id = ?
`, in.YearName, in.SemesterNo, in.SubjectName, in.SubjectCode, in.PaperType, nullableInt(in.PaperYear), in.File, id)
	} else {
		res, err = s.db.ExecContext(ctx, `
UPDATE papers SET year_name = ?, semester_no = ?, subject_name = ?, subject_code = ?, paper_type = ?, paper_year = ?
WHERE id = ?
`, in.YearName, in.SemesterNo, in.SubjectName, in.SubjectCode, in.PaperType, nullableInt(in.PaperYear), id)
	}
	if err != nil {
		return fmt.Errorf("update paper %d: %w", id, err)
	}
	return requireRow(res, id)
}

// DeletePaper removes a paper.
func (s *Storage) DeletePaper(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete paper %d: %w", id, err)
	}
	return requireRow(res, id)
}

// GetPaper returns a paper's metadata, or ErrNotFound.
func (s *Storage) GetPaper(ctx context.Context, id int64) (*Paper, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paperColumns+` FROM papers WHERE id = ?`, id)
	p, err := scanPaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get paper %d: %w", id, err)
	}
	return p, nil
}

// GetPaperFile returns the stored PDF for a paper, or ErrNotFound.
func (s *Storage) GetPaperFile(ctx context.Context, id int64) (*PaperFile, error) {
	var f PaperFile
	err := s.db.QueryRowContext(ctx,
		`SELECT file_data, subject_name, year_name FROM papers WHERE id = ?`, id,
	).Scan(&f.Data, &f.SubjectName, &f.YearName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get paper file %d: %w", id, err)
	}
	return &f, nil
}

// ListPapers returns one page of papers matching q. Search matches
// year_name, subject_name or subject_code as a substring. Unknown sort keys
// fall back to id order.
func (s *Storage) ListPapers(ctx context.Context, q PaperQuery) (PaperPage, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if q.PerPage <= 0 {
		q.PerPage = DefaultPapersPerPage
	}
	q.PerPage = min(q.PerPage, MaxPapersPerPage)
	if q.Page <= 0 {
		q.Page = 1
	}
	order, ok := sortable[q.Sort]
	if !ok {
		q.Sort = "id"
		order = sortable["id"]
	}
	out := PaperPage{
		Papers:  []Paper{},
		Page:    q.Page,
		PerPage: q.PerPage,
		Search:  q.Search,
		Sort:    q.Sort,
	}

	where := ""
	var args []any
	if q.Search != "" {
		like := "%" + q.Search + "%"
		where = " WHERE year_name LIKE ? OR subject_name LIKE ? OR subject_code LIKE ?"
		args = append(args, like, like, like)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`+where, args...).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("count papers: %w", err)
	}
	out.TotalPages = int((out.Total + int64(q.PerPage) - 1) / int64(q.PerPage))
	// Pages past the end are empty. This also bounds the OFFSET below.
	if q.Page > out.TotalPages {
		return out, nil
	}

	args = append(args, q.PerPage, (q.Page-1)*q.PerPage)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paperColumns+` FROM papers`+where+` ORDER BY `+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return out, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return out, fmt.Errorf("scan paper: %w", err)
		}
		out.Papers = append(out.Papers, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(r rowScanner) (*Paper, error) {
	var p Paper
	var year sql.NullInt64
	var created string
	if err := r.Scan(&p.ID, &p.YearName, &p.SemesterNo, &p.SubjectName, &p.SubjectCode, &p.PaperType, &year, &created); err != nil {
		return nil, err
	}
	if year.Valid {
		y := int(year.Int64)
		p.PaperYear = &y
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &p, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("paper %d: %w", id, ErrNotFound)
	}
	return nil
}
