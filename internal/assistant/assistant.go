// Package assistant builds prompts from attendance projections and sends
// them to a text generator. Generation failures never surface as errors;
// callers get a fallback message instead.
package assistant

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"classattend/internal/attendance"
)

var generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "assistant_generations_total",
	Help: "Assistant requests by kind and outcome.",
}, []string{"kind", "outcome"})

// SummaryWindow is how many days of class history feed the summary.
const SummaryWindow = 14

// Thresholds below which no generation is attempted.
const (
	minSummaryRecords = 3
	minRiskRecords    = 5
	minCompareClasses = 2
)

// Assistant answers teacher requests for generated reports and drafts.
type Assistant struct {
	svc     *attendance.Service
	gen     Generator
	timeout time.Duration
	log     *slog.Logger
}

// New creates an assistant. A zero timeout means 60 seconds.
func New(svc *attendance.Service, gen Generator, timeout time.Duration, log *slog.Logger) *Assistant {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assistant{svc: svc, gen: gen, timeout: timeout, log: log}
}

func (a *Assistant) generate(ctx context.Context, kind, prompt string) string {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		generationsTotal.WithLabelValues(kind, "error").Inc()
		a.log.Error("text generation failed", "kind", kind, "error", err)
		return FallbackMessage
	}
	generationsTotal.WithLabelValues(kind, "ok").Inc()
	return text
}

func skipped(kind, msg string) string {
	generationsTotal.WithLabelValues(kind, "insufficient_data").Inc()
	return msg
}

// Summary describes the recent attendance of one class.
func (a *Assistant) Summary(ctx context.Context, classID string) (string, error) {
	c, err := a.svc.Store().GetClass(ctx, classID)
	if err != nil {
		return "", err
	}
	since := a.svc.Today().AddDays(-(SummaryWindow - 1))
	recs, err := a.svc.Records(ctx, attendance.RecordFilter{ClassID: classID, Since: since})
	if err != nil {
		return "", err
	}
	if len(recs) < minSummaryRecords {
		return skipped("summary", NotEnoughSummary), nil
	}
	data, err := a.svc.Resolve(ctx, recs)
	if err != nil {
		return "", err
	}
	for i := range data {
		data[i].ClassName = ""
	}
	return a.generate(ctx, "summary", summaryPrompt(c.Name, data)), nil
}

// Analysis reports on the full history of one class.
func (a *Assistant) Analysis(ctx context.Context, classID string) (string, error) {
	if _, err := a.svc.Store().GetClass(ctx, classID); err != nil {
		return "", err
	}
	recs, err := a.svc.Records(ctx, attendance.RecordFilter{ClassID: classID})
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return skipped("analysis", NotEnoughAnalysis), nil
	}
	data, err := a.svc.Resolve(ctx, recs)
	if err != nil {
		return "", err
	}
	return a.generate(ctx, "analysis", analysisPrompt(data)), nil
}

// Risk ranks students by absence risk within a class, or across all classes
// when classID is empty. A non-empty studentID focuses the report on that
// student's records in every class. The record threshold applies to the set
// actually sent.
func (a *Assistant) Risk(ctx context.Context, classID, studentID string) (string, error) {
	focus := "da turma inteira"
	filter := attendance.RecordFilter{ClassID: classID}
	if studentID != "" {
		st, err := a.svc.Student(ctx, studentID)
		if err != nil {
			return "", err
		}
		focus = "do aluno " + st.Name
		filter = attendance.RecordFilter{StudentID: studentID}
	}
	recs, err := a.svc.Records(ctx, filter)
	if err != nil {
		return "", err
	}
	if len(recs) < minRiskRecords {
		return skipped("risk", NotEnoughRisk), nil
	}
	data, err := a.svc.Resolve(ctx, recs)
	if err != nil {
		return "", err
	}
	return a.generate(ctx, "risk", riskPrompt(focus, data, totals(recs, data))), nil
}

// totals aggregates per-student presences and absences; data must be the
// resolved form of recs.
func totals(recs []attendance.Record, data []attendance.ResolvedRecord) []attendance.StudentSummary {
	byID := make(map[string]*attendance.StudentSummary)
	for i, r := range recs {
		s, ok := byID[r.StudentID]
		if !ok {
			s = &attendance.StudentSummary{StudentID: r.StudentID, Name: data[i].StudentName}
			byID[r.StudentID] = s
		}
		if r.Status.Qualifies() {
			s.Presences++
		} else {
			s.Absences++
		}
	}
	out := make([]attendance.StudentSummary, 0, len(byID))
	for _, s := range byID {
		if total := s.Presences + s.Absences; total > 0 {
			s.Rate = float64(s.Presences) / float64(total) * 100
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Absences != out[j].Absences {
			return out[i].Absences > out[j].Absences
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}

// Compare contrasts the attendance history of two or more classes.
func (a *Assistant) Compare(ctx context.Context, classIDs []string) (string, error) {
	if len(classIDs) < minCompareClasses {
		return skipped("compare", NotEnoughComparison), nil
	}
	series, err := a.svc.Compare(ctx, classIDs)
	if err != nil {
		return "", err
	}
	return a.generate(ctx, "compare", comparisonPrompt(series)), nil
}

// Draft writes a message to a student of the given kind.
func (a *Assistant) Draft(ctx context.Context, studentID, classID string, kind attendance.CommunicationType) (string, error) {
	if !kind.Valid() {
		return "", &attendance.ValidationError{Field: "type", Message: "must be absence, positive, support or corrective"}
	}
	st, err := a.svc.Student(ctx, studentID)
	if err != nil {
		return "", err
	}
	c, err := a.svc.Store().GetClass(ctx, classID)
	if err != nil {
		return "", err
	}
	return a.generate(ctx, "draft", draftPrompt(st.Name, c.Name, kind)), nil
}
