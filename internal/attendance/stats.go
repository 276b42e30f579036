package attendance

import (
	"context"
	"errors"
	"math"
	"sort"
)

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// DailyStats summarizes one class on one day.
type DailyStats struct {
	ClassID  string `json:"class_id"`
	Date     Date   `json:"date"`
	Enrolled int    `json:"enrolled"`
	Present  int    `json:"present"`
	Absent   int    `json:"absent"`
	Rate     int    `json:"rate"`
}

// DayRate is one point of a class's attendance history.
type DayRate struct {
	Date    Date `json:"date"`
	Present int  `json:"present"`
	Absent  int  `json:"absent"`
	Rate    int  `json:"rate"`
}

// StudentSummary aggregates a student's records in one class.
type StudentSummary struct {
	StudentID string  `json:"student_id"`
	Name      string  `json:"name"`
	Presences int     `json:"presences"`
	Absences  int     `json:"absences"`
	Rate      float64 `json:"rate"`
}

// ClassRate is the share of qualifying records of a student in one class.
type ClassRate struct {
	ClassID   string  `json:"class_id"`
	ClassName string  `json:"class_name"`
	Presences int     `json:"presences"`
	Total     int     `json:"total"`
	Rate      float64 `json:"rate"`
}

// StudentProfile is the teacher's view of one student.
type StudentProfile struct {
	Student        Student            `json:"student"`
	Streak         int                `json:"streak"`
	Classes        []ClassRate        `json:"classes"`
	Communications []CommunicationLog `json:"communications"`
}

// ClassSeries is the history of one class with its mean rate.
type ClassSeries struct {
	ClassID   string    `json:"class_id"`
	ClassName string    `json:"class_name"`
	Average   float64   `json:"average"`
	Points    []DayRate `json:"points"`
}

// ExportRow is one line of the daily attendance export.
type ExportRow struct {
	EnrollmentID string `json:"matricula"`
	Name         string `json:"nome"`
	Status       Status `json:"status"`
	Date         Date   `json:"data"`
	ClassName    string `json:"turma"`
}

// ResolvedRecord is a record with display names, as handed to the assistant.
type ResolvedRecord struct {
	StudentName string `json:"studentName"`
	ClassName   string `json:"className,omitempty"`
	Status      Status `json:"status"`
	Date        Date   `json:"date"`
}

func rate(present, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(present) / float64(total) * 100))
}

func percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func countQualifying(recs []Record) int {
	n := 0
	for _, r := range recs {
		if r.Status.Qualifies() {
			n++
		}
	}
	return n
}

func dailyStats(classID string, date Date, enrolled int, recs []Record) DailyStats {
	if enrolled == 0 {
		return DailyStats{ClassID: classID, Date: date}
	}
	present := countQualifying(recs)
	absent := enrolled - present
	if absent < 0 {
		absent = 0
	}
	return DailyStats{
		ClassID:  classID,
		Date:     date,
		Enrolled: enrolled,
		Present:  present,
		Absent:   absent,
		Rate:     rate(present, enrolled),
	}
}

// ComputeDailyStats recomputes the stats of a class on a day from the store.
func ComputeDailyStats(ctx context.Context, store Store, classID string, date Date) (DailyStats, error) {
	if _, err := store.GetClass(ctx, classID); err != nil {
		return DailyStats{}, err
	}
	enrolled, err := enrolledCount(ctx, store, classID)
	if err != nil {
		return DailyStats{}, err
	}
	recs, err := store.ListRecords(ctx, RecordFilter{ClassID: classID, Date: date})
	if err != nil {
		return DailyStats{}, err
	}
	return dailyStats(classID, date, enrolled, recs), nil
}

func enrolledCount(ctx context.Context, store Store, classID string) (int, error) {
	students, err := store.ListStudents(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, st := range students {
		if st.EnrolledIn(classID) {
			n++
		}
	}
	return n, nil
}

// DailyStats returns present/absent counts and the rate of a class on date.
// The read-through runs under the mutation lock so a value computed before a
// mutation is never stored after that mutation's invalidation.
func (s *Service) DailyStats(ctx context.Context, classID string, date Date) (DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if date == s.Today() {
		if _, err := s.reconcileLocked(ctx, date); err != nil {
			return DailyStats{}, err
		}
	}
	if st, ok := s.cache.GetDaily(ctx, classID, date); ok {
		return st, nil
	}
	st, err := ComputeDailyStats(ctx, s.store, classID, date)
	if err != nil {
		return DailyStats{}, err
	}
	s.cache.PutDaily(ctx, st)
	return st, nil
}

// History returns the daily rate of a class for every recorded day, oldest first.
func (s *Service) History(ctx context.Context, classID string) ([]DayRate, error) {
	if _, err := s.store.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	enrolled, err := enrolledCount(ctx, s.store, classID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.ListRecords(ctx, RecordFilter{ClassID: classID})
	if err != nil {
		return nil, err
	}
	return history(classID, enrolled, recs), nil
}

func history(classID string, enrolled int, recs []Record) []DayRate {
	byDate := make(map[Date][]Record)
	for _, r := range recs {
		byDate[r.Date] = append(byDate[r.Date], r)
	}
	out := make([]DayRate, 0, len(byDate))
	for date, day := range byDate {
		st := dailyStats(classID, date, enrolled, day)
		out = append(out, DayRate{Date: date, Present: st.Present, Absent: st.Absent, Rate: st.Rate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Streak counts consecutive days, ending today, on which the student has at
// least one present or justified record. A day without one, today included,
// ends the streak.
func (s *Service) Streak(ctx context.Context, studentID string) (int, error) {
	recs, err := s.store.ListRecords(ctx, RecordFilter{StudentID: studentID})
	if err != nil {
		return 0, err
	}
	return streak(recs, s.Today()), nil
}

func streak(recs []Record, today Date) int {
	days := make(map[Date]struct{})
	for _, r := range recs {
		if r.Status.Qualifies() {
			days[r.Date] = struct{}{}
		}
	}
	n := 0
	for day := today; ; day = day.AddDays(-1) {
		if _, ok := days[day]; !ok {
			return n
		}
		n++
	}
}

// ClassSummary returns per-student totals for every student enrolled in a class.
func (s *Service) ClassSummary(ctx context.Context, classID string) ([]StudentSummary, error) {
	if _, err := s.store.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	students, err := s.Students(ctx, classID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.ListRecords(ctx, RecordFilter{ClassID: classID})
	if err != nil {
		return nil, err
	}
	byStudent := make(map[string][]Record)
	for _, r := range recs {
		byStudent[r.StudentID] = append(byStudent[r.StudentID], r)
	}
	out := make([]StudentSummary, 0, len(students))
	for _, st := range students {
		mine := byStudent[st.ID]
		present := countQualifying(mine)
		absent := 0
		for _, r := range mine {
			if r.Status == StatusAbsent {
				absent++
			}
		}
		out = append(out, StudentSummary{
			StudentID: st.ID,
			Name:      st.Name,
			Presences: present,
			Absences:  absent,
			Rate:      percent(present, len(mine)),
		})
	}
	return out, nil
}

// StudentProfile returns per-class rates, streak and communication history
// of one student.
func (s *Service) StudentProfile(ctx context.Context, studentID string) (StudentProfile, error) {
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return StudentProfile{}, err
	}
	recs, err := s.store.ListRecords(ctx, RecordFilter{StudentID: studentID})
	if err != nil {
		return StudentProfile{}, err
	}
	names, err := s.classNames(ctx)
	if err != nil {
		return StudentProfile{}, err
	}
	byClass := make(map[string][]Record)
	var order []string
	for _, r := range recs {
		if _, ok := byClass[r.ClassID]; !ok {
			order = append(order, r.ClassID)
		}
		byClass[r.ClassID] = append(byClass[r.ClassID], r)
	}
	rates := make([]ClassRate, 0, len(order))
	for _, cid := range order {
		present := countQualifying(byClass[cid])
		total := len(byClass[cid])
		rates = append(rates, ClassRate{
			ClassID:   cid,
			ClassName: nameOr(names, cid),
			Presences: present,
			Total:     total,
			Rate:      percent(present, total),
		})
	}
	comms, err := s.store.ListCommunications(ctx, studentID)
	if err != nil {
		return StudentProfile{}, err
	}
	return StudentProfile{
		Student:        st,
		Streak:         streak(recs, s.Today()),
		Classes:        rates,
		Communications: comms,
	}, nil
}

// Compare returns the history of each class with its average daily rate.
func (s *Service) Compare(ctx context.Context, classIDs []string) ([]ClassSeries, error) {
	out := make([]ClassSeries, 0, len(classIDs))
	for _, cid := range classIDs {
		c, err := s.store.GetClass(ctx, cid)
		if err != nil {
			return nil, err
		}
		points, err := s.History(ctx, cid)
		if err != nil {
			return nil, err
		}
		var sum int
		for _, p := range points {
			sum += p.Rate
		}
		avg := 0.0
		if len(points) > 0 {
			avg = float64(sum) / float64(len(points))
		}
		out = append(out, ClassSeries{ClassID: c.ID, ClassName: c.Name, Average: avg, Points: points})
	}
	return out, nil
}

// Export projects a class's attendance on date into one row per enrolled
// student. Students without a record are reported absent.
func (s *Service) Export(ctx context.Context, classID string, date Date) ([]ExportRow, error) {
	recs, err := s.ClassRecords(ctx, classID, date)
	if err != nil {
		return nil, err
	}
	c, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	students, err := s.Students(ctx, classID)
	if err != nil {
		return nil, err
	}
	byStudent := make(map[string]Record, len(recs))
	for _, r := range recs {
		byStudent[r.StudentID] = r
	}
	rows := make([]ExportRow, 0, len(students))
	for _, st := range students {
		status := StatusAbsent
		if r, ok := byStudent[st.ID]; ok {
			status = r.Status
		}
		rows = append(rows, ExportRow{EnrollmentID: st.ID, Name: st.Name, Status: status, Date: date, ClassName: c.Name})
	}
	return rows, nil
}

// Resolve replaces ids with display names. Unknown ids resolve to "Unknown".
func (s *Service) Resolve(ctx context.Context, recs []Record) ([]ResolvedRecord, error) {
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	studentNames := make(map[string]string, len(students))
	for _, st := range students {
		studentNames[st.ID] = st.Name
	}
	classNames, err := s.classNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, ResolvedRecord{
			StudentName: nameOr(studentNames, r.StudentID),
			ClassName:   nameOr(classNames, r.ClassID),
			Status:      r.Status,
			Date:        r.Date,
		})
	}
	return out, nil
}

// Records lists records matching f.
func (s *Service) Records(ctx context.Context, f RecordFilter) ([]Record, error) {
	return s.store.ListRecords(ctx, f)
}

func (s *Service) classNames(ctx context.Context) (map[string]string, error) {
	classes, err := s.store.ListClasses(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(classes))
	for _, c := range classes {
		names[c.ID] = c.Name
	}
	return names, nil
}

func nameOr(names map[string]string, id string) string {
	if n, ok := names[id]; ok {
		return n
	}
	return "Unknown"
}
