package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Dialect selects placeholder syntax for the SQL repository.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Repository persists attendance data in Postgres or SQLite.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{db: db, dialect: dialect}
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// q rewrites $n placeholders for drivers that only accept '?'.
// Queries must reference their arguments in order.
func (r *Repository) q(query string) string {
	if r.dialect == DialectSQLite {
		return placeholderRe.ReplaceAllString(query, "?")
	}
	return query
}

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	password   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS classes (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	teacher_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS enrollments (
	student_id TEXT NOT NULL REFERENCES students(id),
	class_id   TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	PRIMARY KEY (student_id, class_id)
);
CREATE TABLE IF NOT EXISTS attendance_records (
	id                   TEXT PRIMARY KEY,
	student_id           TEXT NOT NULL,
	class_id             TEXT NOT NULL,
	day                  TEXT NOT NULL,
	status               TEXT NOT NULL,
	justification        TEXT NOT NULL DEFAULT '',
	justification_status TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_records_class_day ON attendance_records(class_id, day);
CREATE INDEX IF NOT EXISTS idx_records_student ON attendance_records(student_id);
CREATE TABLE IF NOT EXISTS teacher_profile (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	email     TEXT NOT NULL,
	sector    TEXT NOT NULL,
	photo_url TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS communication_logs (
	id           TEXT PRIMARY KEY,
	student_id   TEXT NOT NULL,
	student_name TEXT NOT NULL,
	class_id     TEXT NOT NULL,
	class_name   TEXT NOT NULL,
	kind         TEXT NOT NULL,
	content      TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
`

// Migrate creates the schema and inserts the seed teacher and classes when
// they are missing.
func (r *Repository) Migrate(ctx context.Context, teacher Teacher, classes []Class) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if _, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO teacher_profile (id, name, email, sector, photo_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`), teacher.ID, teacher.Name, teacher.Email, teacher.Sector, teacher.PhotoURL); err != nil {
		return fmt.Errorf("seed teacher: %w", err)
	}
	for _, c := range classes {
		if _, err := r.db.ExecContext(ctx, r.q(`
			INSERT INTO classes (id, name, teacher_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`), c.ID, c.Name, c.TeacherID, c.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("seed class %s: %w", c.ID, err)
		}
	}
	return nil
}

func (r *Repository) CreateStudent(ctx context.Context, st Student, passwordHash string) error {
	if _, err := r.GetStudent(ctx, st.ID); err == nil {
		return ErrDuplicateID
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, err := r.StudentByEmail(ctx, st.Email); err == nil {
		return ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, r.q(`
		INSERT INTO students (id, name, email, password) VALUES ($1, $2, $3, $4)
	`), st.ID, st.Name, st.Email, passwordHash); err != nil {
		return err
	}
	if err := r.writeEnrollment(ctx, tx, st.ID, st.ClassIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) writeEnrollment(ctx context.Context, tx *sql.Tx, studentID string, classIDs []string) error {
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM enrollments WHERE student_id = $1`), studentID); err != nil {
		return err
	}
	for _, cid := range classIDs {
		if _, err := tx.ExecContext(ctx, r.q(`
			INSERT INTO enrollments (student_id, class_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`), studentID, cid); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) classIDsOf(ctx context.Context, studentID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT e.class_id FROM enrollments e
		JOIN classes c ON c.id = e.class_id
		WHERE e.student_id = $1
		ORDER BY c.created_at
	`), studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) scanStudent(ctx context.Context, row *sql.Row, key string) (Student, error) {
	var st Student
	if err := row.Scan(&st.ID, &st.Name, &st.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, notFound("student", key)
		}
		return Student{}, err
	}
	ids, err := r.classIDsOf(ctx, st.ID)
	if err != nil {
		return Student{}, err
	}
	st.ClassIDs = ids
	return st, nil
}

func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT id, name, email FROM students WHERE id = $1`), id)
	return r.scanStudent(ctx, row, id)
}

func (r *Repository) StudentByEmail(ctx context.Context, email string) (Student, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT id, name, email FROM students WHERE email = $1`), email)
	return r.scanStudent(ctx, row, email)
}

func (r *Repository) PasswordHash(ctx context.Context, email string) (string, error) {
	var h string
	err := r.db.QueryRowContext(ctx, r.q(`SELECT password FROM students WHERE email = $1`), email).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("credential", email)
	}
	return h, err
}

func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, email FROM students ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Email); err != nil {
			rows.Close()
			return nil, err
		}
		students = append(students, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	enrollments, err := r.db.QueryContext(ctx, `
		SELECT e.student_id, e.class_id FROM enrollments e
		JOIN classes c ON c.id = e.class_id
		ORDER BY c.created_at
	`)
	if err != nil {
		return nil, err
	}
	defer enrollments.Close()
	byStudent := make(map[string][]string)
	for enrollments.Next() {
		var sid, cid string
		if err := enrollments.Scan(&sid, &cid); err != nil {
			return nil, err
		}
		byStudent[sid] = append(byStudent[sid], cid)
	}
	for i := range students {
		students[i].ClassIDs = byStudent[students[i].ID]
		if students[i].ClassIDs == nil {
			students[i].ClassIDs = []string{}
		}
	}
	return students, enrollments.Err()
}

func (r *Repository) SetEnrollment(ctx context.Context, studentID string, classIDs []string) error {
	if _, err := r.GetStudent(ctx, studentID); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := r.writeEnrollment(ctx, tx, studentID, classIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) CreateClass(ctx context.Context, c Class) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO classes (id, name, teacher_id, created_at) VALUES ($1, $2, $3, $4)
	`), c.ID, c.Name, c.TeacherID, c.CreatedAt.UTC())
	return err
}

func (r *Repository) GetClass(ctx context.Context, id string) (Class, error) {
	var c Class
	err := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, name, teacher_id, created_at FROM classes WHERE id = $1
	`), id).Scan(&c.ID, &c.Name, &c.TeacherID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Class{}, notFound("class", id)
	}
	return c, err
}

func (r *Repository) ListClasses(ctx context.Context) ([]Class, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, teacher_id, created_at FROM classes ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Class
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.Name, &c.TeacherID, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *Repository) RenameClass(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE classes SET name = $1 WHERE id = $2`), name, id)
	if err != nil {
		return err
	}
	return expectOne(res, "class", id)
}

func (r *Repository) DeleteClass(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM attendance_records WHERE class_id = $1`), id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM enrollments WHERE class_id = $1`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM classes WHERE id = $1`), id)
	if err != nil {
		return err
	}
	if err := expectOne(res, "class", id); err != nil {
		return err
	}
	return tx.Commit()
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

const recordColumns = `id, student_id, class_id, day, status, justification, justification_status`

func scanRecord(s interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var day, status, jstatus string
	if err := s.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &day, &status, &rec.Justification, &jstatus); err != nil {
		return Record{}, err
	}
	rec.Date = Date(day)
	rec.Status = Status(status)
	rec.JustificationStatus = JustificationStatus(jstatus)
	return rec, nil
}

func (r *Repository) GetRecord(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound("record", id)
	}
	return rec, err
}

// ListRecords returns records with basic filters.
func (r *Repository) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		clauses = append(clauses, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if f.ClassID != "" {
		args = append(args, f.ClassID)
		clauses = append(clauses, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if f.Date != "" {
		args = append(args, string(f.Date))
		clauses = append(clauses, fmt.Sprintf("day = $%d", len(args)))
	}
	if f.Since != "" {
		args = append(args, string(f.Since))
		clauses = append(clauses, fmt.Sprintf("day >= $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY day, id"

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r *Repository) InsertRecords(ctx context.Context, recs []Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	created := 0
	for _, rec := range recs {
		res, err := tx.ExecContext(ctx, r.q(`
			INSERT INTO attendance_records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`), rec.ID, rec.StudentID, rec.ClassID, string(rec.Date), string(rec.Status), rec.Justification, string(rec.JustificationStatus))
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			created += int(n)
		}
	}
	return created, tx.Commit()
}

func (r *Repository) PutRecord(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			justification = excluded.justification,
			justification_status = excluded.justification_status
	`), rec.ID, rec.StudentID, rec.ClassID, string(rec.Date), string(rec.Status), rec.Justification, string(rec.JustificationStatus))
	return err
}

func (r *Repository) Teacher(ctx context.Context) (Teacher, error) {
	var t Teacher
	err := r.db.QueryRowContext(ctx, `SELECT id, name, email, sector, photo_url FROM teacher_profile LIMIT 1`).
		Scan(&t.ID, &t.Name, &t.Email, &t.Sector, &t.PhotoURL)
	if errors.Is(err, sql.ErrNoRows) {
		return Teacher{}, notFound("teacher", DefaultTeacherID)
	}
	return t, err
}

func (r *Repository) SaveTeacher(ctx context.Context, t Teacher) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO teacher_profile (id, name, email, sector, photo_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			sector = excluded.sector,
			photo_url = excluded.photo_url
	`), t.ID, t.Name, t.Email, t.Sector, t.PhotoURL)
	return err
}

func (r *Repository) AppendCommunication(ctx context.Context, log CommunicationLog) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO communication_logs (id, student_id, student_name, class_id, class_name, kind, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`), log.ID, log.StudentID, log.StudentName, log.ClassID, log.ClassName, string(log.Type), log.Content, log.Timestamp.UTC())
	return err
}

func (r *Repository) ListCommunications(ctx context.Context, studentID string) ([]CommunicationLog, error) {
	query := `SELECT id, student_id, student_name, class_id, class_name, kind, content, created_at FROM communication_logs`
	args := []any{}
	if studentID != "" {
		query += ` WHERE student_id = $1`
		args = append(args, studentID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CommunicationLog
	for rows.Next() {
		var l CommunicationLog
		var kind string
		var ts time.Time
		if err := rows.Scan(&l.ID, &l.StudentID, &l.StudentName, &l.ClassID, &l.ClassName, &kind, &l.Content, &ts); err != nil {
			return nil, err
		}
		l.Type = CommunicationType(kind)
		l.Timestamp = ts
		res = append(res, l)
	}
	return res, rows.Err()
}

var _ Store = (*Repository)(nil)
var _ Store = (*MemoryStore)(nil)
