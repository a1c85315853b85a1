// Package catalog tracks the branch, semester, and subject the user is
// browsing and fetches the reference entities beneath each selection.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/prefs"
)

// Backend is the subset of the API client the Navigator uses.
type Backend interface {
	Branches(ctx context.Context) ([]api.Branch, error)
	BranchSemesters(ctx context.Context, branchID string) ([]api.Semester, error)
	SemesterSubjects(ctx context.Context, semesterID string) ([]api.Subject, error)
	SubjectQuestions(ctx context.Context, subjectID string, f api.QuestionFilters) ([]api.Question, error)
	SearchQuestions(ctx context.Context, p api.SearchParams) ([]api.Question, int, error)
}

// Selection is an immutable view of what the user is browsing.
type Selection struct {
	Branch   *api.Branch
	Semester *api.Semester
	Subject  *api.Subject
	Filters  api.QuestionFilters

	Branches  []api.Branch
	Semesters []api.Semester
	Subjects  []api.Subject
	Questions []api.Question
}

func (s Selection) clone() Selection {
	if s.Branch != nil {
		b := *s.Branch
		s.Branch = &b
	}
	if s.Semester != nil {
		v := *s.Semester
		s.Semester = &v
	}
	if s.Subject != nil {
		v := *s.Subject
		v.Modules = slices.Clone(v.Modules)
		s.Subject = &v
	}
	s.Branches = slices.Clone(s.Branches)
	s.Semesters = slices.Clone(s.Semesters)
	s.Subjects = slices.Clone(s.Subjects)
	s.Questions = slices.Clone(s.Questions)
	return s
}

// SearchResult is one page of question search results.
type SearchResult struct {
	Questions []api.Question
	Total     int
}

// Navigator owns the current selection. Each select call clears everything
// below it before fetching; results of a fetch superseded by a newer select
// are discarded.
type Navigator struct {
	backend Backend
	prefs   *prefs.Store
	logger  *slog.Logger

	mu        sync.Mutex
	sel       Selection
	gen       uint64
	questions map[string]api.Question
}

// New creates a Navigator. prefs may be nil, in which case selections are
// not persisted.
func New(backend Backend, p *prefs.Store, logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{
		backend:   backend,
		prefs:     p,
		logger:    logger,
		questions: make(map[string]api.Question),
	}
}

// Restore seeds the selection from persisted preferences without fetching.
func (n *Navigator) Restore() {
	if n.prefs == nil {
		return
	}
	p := n.prefs.Get()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	n.sel = Selection{Branch: p.Branch, Semester: p.Semester, Subject: p.Subject, Branches: n.sel.Branches}
}

// Snapshot returns a copy of the current selection.
func (n *Navigator) Snapshot() Selection {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sel.clone()
}

// Branches fetches the list of branches.
func (n *Navigator) Branches(ctx context.Context) ([]api.Branch, error) {
	branches, err := n.backend.Branches(ctx)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.sel.Branches = slices.Clone(branches)
	n.mu.Unlock()
	return branches, nil
}

// SelectBranch selects b, clears semester and subject state, persists the
// selection, and fetches b's semesters.
func (n *Navigator) SelectBranch(ctx context.Context, b api.Branch) ([]api.Semester, error) {
	if b.ID == "" {
		return nil, apperr.Required("branch id")
	}

	n.mu.Lock()
	gen, err := n.installLocked(ctx, func(s *Selection) {
		*s = Selection{Branch: &b, Branches: s.Branches}
	})
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sems, err := n.backend.BranchSemesters(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch semesters of %s: %w", b.ID, err)
	}
	n.apply(gen, "semesters", func(s *Selection) { s.Semesters = slices.Clone(sems) })
	return sems, nil
}

// SelectSemester selects sem under the current branch, clears subject
// state, persists the selection, and fetches sem's subjects.
func (n *Navigator) SelectSemester(ctx context.Context, sem api.Semester) ([]api.Subject, error) {
	if sem.ID == "" {
		return nil, apperr.Required("semester id")
	}

	n.mu.Lock()
	if n.sel.Branch == nil {
		n.mu.Unlock()
		return nil, &apperr.ValidationError{Field: "branch", Reason: "must be selected first"}
	}
	if sem.Branch != "" && sem.Branch != n.sel.Branch.ID {
		n.mu.Unlock()
		return nil, &apperr.ValidationError{Field: "semester", Reason: fmt.Sprintf("%s does not belong to branch %s", sem.ID, n.sel.Branch.ID)}
	}
	gen, err := n.installLocked(ctx, func(s *Selection) {
		s.Semester = &sem
		s.Subject = nil
		s.Filters = api.QuestionFilters{}
		s.Subjects = nil
		s.Questions = nil
	})
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}

	subjects, err := n.backend.SemesterSubjects(ctx, sem.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch subjects of %s: %w", sem.ID, err)
	}
	n.apply(gen, "subjects", func(s *Selection) { s.Subjects = slices.Clone(subjects) })
	return subjects, nil
}

// SelectSubject selects subj under the current semester, persists the
// selection, and fetches its questions narrowed by f.
func (n *Navigator) SelectSubject(ctx context.Context, subj api.Subject, f api.QuestionFilters) ([]api.Question, error) {
	if subj.ID == "" {
		return nil, apperr.Required("subject id")
	}

	n.mu.Lock()
	if n.sel.Semester == nil {
		n.mu.Unlock()
		return nil, &apperr.ValidationError{Field: "semester", Reason: "must be selected first"}
	}
	if subj.Semester != "" && subj.Semester != n.sel.Semester.ID {
		n.mu.Unlock()
		return nil, &apperr.ValidationError{Field: "subject", Reason: fmt.Sprintf("%s does not belong to semester %s", subj.ID, n.sel.Semester.ID)}
	}
	gen, err := n.installLocked(ctx, func(s *Selection) {
		s.Subject = &subj
		s.Filters = f
		s.Questions = nil
	})
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}

	qs, err := n.backend.SubjectQuestions(ctx, subj.ID, f)
	if err != nil {
		return nil, fmt.Errorf("fetch questions of %s: %w", subj.ID, err)
	}
	n.cacheQuestions(qs)
	n.apply(gen, "questions", func(s *Selection) { s.Questions = slices.Clone(qs) })
	return qs, nil
}

// Search runs a question search and records the query as a recent search.
func (n *Navigator) Search(ctx context.Context, params api.SearchParams) (SearchResult, error) {
	if params.Query == "" && params.Subject == "" {
		return SearchResult{}, &apperr.ValidationError{Reason: "query or subject is required"}
	}

	if n.prefs != nil && params.Query != "" {
		if err := n.prefs.AddRecentSearch(ctx, params.Query); err != nil {
			n.logger.Warn("failed to record recent search", "error", err)
		}
	}

	qs, total, err := n.backend.SearchQuestions(ctx, params)
	if err != nil {
		return SearchResult{}, err
	}
	n.cacheQuestions(qs)
	return SearchResult{Questions: qs, Total: total}, nil
}

// Question returns a question seen in an earlier fetch.
func (n *Navigator) Question(id string) (api.Question, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	q, ok := n.questions[id]
	return q, ok
}

// FindQuestion looks id up in the cache and, failing that, in the questions
// of the selected subject.
func (n *Navigator) FindQuestion(ctx context.Context, id string) (api.Question, error) {
	if q, ok := n.Question(id); ok {
		return q, nil
	}

	sel := n.Snapshot()
	if sel.Subject == nil {
		return api.Question{}, &apperr.ValidationError{Field: "question", Reason: fmt.Sprintf("%s not found; select its subject first", id)}
	}
	qs, err := n.backend.SubjectQuestions(ctx, sel.Subject.ID, sel.Filters)
	if err != nil {
		return api.Question{}, err
	}
	n.cacheQuestions(qs)
	if q, ok := n.Question(id); ok {
		return q, nil
	}
	return api.Question{}, &apperr.ValidationError{Field: "question", Reason: fmt.Sprintf("%s not found in %s", id, sel.Subject.Name)}
}

func (n *Navigator) cacheQuestions(qs []api.Question) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, q := range qs {
		n.questions[q.ID] = q
	}
}

// apply installs fetched children unless a newer selection started since.
func (n *Navigator) apply(gen uint64, what string, fn func(s *Selection)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen != n.gen {
		n.logger.Debug("discarding superseded fetch", "list", what)
		return
	}
	fn(&n.sel)
}

// persistLocked writes the selected entities into preferences. Callers hold
// n.mu so persisted selections are written in selection order.
// installLocked applies update to the selection under a new generation and
// persists it. If persisting fails the previous selection and generation are
// restored.
func (n *Navigator) installLocked(ctx context.Context, update func(s *Selection)) (uint64, error) {
	prev, prevGen := n.sel, n.gen
	n.gen++
	update(&n.sel)
	if err := n.persistLocked(ctx); err != nil {
		n.sel, n.gen = prev, prevGen
		return 0, err
	}
	return n.gen, nil
}

func (n *Navigator) persistLocked(ctx context.Context) error {
	if n.prefs == nil {
		return nil
	}
	sel := n.sel.clone()
	err := n.prefs.Mutate(ctx, func(p *prefs.Preferences) {
		p.Branch = sel.Branch
		p.Semester = sel.Semester
		p.Subject = sel.Subject
	})
	if err != nil {
		return fmt.Errorf("persist selection: %w", err)
	}
	return nil
}
