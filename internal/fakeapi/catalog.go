package fakeapi

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pyqdeck/pyqdeck/internal/api"
)

// Catalog is the reference data served by the fake backend.
type Catalog struct {
	Branches  []api.Branch
	Semesters []api.Semester
	Subjects  []api.Subject
	Questions []api.Question
}

// SampleCatalog returns a small two-branch catalog.
func SampleCatalog() *Catalog {
	c := &Catalog{
		Branches: []api.Branch{
			{ID: "br-cse", Name: "Computer Science and Engineering", Code: "CSE"},
			{ID: "br-ece", Name: "Electronics and Communication Engineering", Code: "ECE"},
		},
		Semesters: []api.Semester{
			{ID: "sem-cse-3", Number: 3, Branch: "br-cse"},
			{ID: "sem-cse-4", Number: 4, Branch: "br-cse"},
			{ID: "sem-ece-3", Number: 3, Branch: "br-ece"},
		},
		Subjects: []api.Subject{
			{ID: "sub-ds", Name: "Data Structures", Code: "CS301", Semester: "sem-cse-3", Branch: "br-cse", Modules: []string{"1", "2", "3"}},
			{ID: "sub-dbms", Name: "Database Management Systems", Code: "CS402", Semester: "sem-cse-4", Branch: "br-cse", Modules: []string{"1", "2"}},
			{ID: "sub-ns", Name: "Network Theory", Code: "EC303", Semester: "sem-ece-3", Branch: "br-ece", Modules: []string{"1", "2"}},
		},
	}
	add := func(id, subject, module string, year, marks int, typ, text string) {
		c.Questions = append(c.Questions, api.Question{
			ID: id, Subject: subject, Module: module, Year: year, Marks: marks, Type: typ, Text: text,
		})
	}
	add("q-ds-1", "sub-ds", "1", 2022, 5, "short", "Differentiate between a stack and a queue with examples.")
	add("q-ds-2", "sub-ds", "1", 2023, 10, "long", "Write an algorithm to convert an infix expression to postfix using a stack.")
	add("q-ds-3", "sub-ds", "2", 2022, 10, "long", "Explain AVL tree rotations with a suitable example.")
	add("q-ds-4", "sub-ds", "3", 2023, 5, "short", "What is the time complexity of heap sort? Justify.")
	add("q-dbms-1", "sub-dbms", "1", 2023, 5, "short", "Define normalization and explain 3NF.")
	add("q-dbms-2", "sub-dbms", "2", 2022, 10, "long", "Explain two-phase locking and how it ensures serializability.")
	add("q-ns-1", "sub-ns", "1", 2022, 10, "long", "State and prove the maximum power transfer theorem.")
	add("q-ns-2", "sub-ns", "2", 2023, 5, "short", "Find the Thevenin equivalent of a given network using mesh analysis.")
	return c
}

func findByID[T any](items []T, id string, idOf func(T) string) (T, bool) {
	for _, it := range items {
		if idOf(it) == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := []T{}
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func (s *Server) listBranches(w http.ResponseWriter, r *http.Request) {
	ok(w, s.catalog.Branches)
}

func (s *Server) getBranch(w http.ResponseWriter, r *http.Request) {
	b, found := findByID(s.catalog.Branches, chi.URLParam(r, "id"), func(b api.Branch) string { return b.ID })
	if !found {
		fail(w, http.StatusNotFound, "Branch not found")
		return
	}
	ok(w, b)
}

func (s *Server) branchSemesters(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok(w, filter(s.catalog.Semesters, func(sem api.Semester) bool { return sem.Branch == id }))
}

func (s *Server) getSemester(w http.ResponseWriter, r *http.Request) {
	sem, found := findByID(s.catalog.Semesters, chi.URLParam(r, "id"), func(s api.Semester) string { return s.ID })
	if !found {
		fail(w, http.StatusNotFound, "Semester not found")
		return
	}
	ok(w, sem)
}

func (s *Server) semesterSubjects(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok(w, filter(s.catalog.Subjects, func(sub api.Subject) bool { return sub.Semester == id }))
}

func (s *Server) getSubject(w http.ResponseWriter, r *http.Request) {
	sub, found := findByID(s.catalog.Subjects, chi.URLParam(r, "id"), func(s api.Subject) string { return s.ID })
	if !found {
		fail(w, http.StatusNotFound, "Subject not found")
		return
	}
	ok(w, sub)
}

func (s *Server) subjectQuestions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	year, _ := strconv.Atoi(q.Get("year"))
	module, typ := q.Get("module"), q.Get("type")

	ok(w, filter(s.catalog.Questions, func(qn api.Question) bool {
		return qn.Subject == id &&
			(year == 0 || qn.Year == year) &&
			(module == "" || qn.Module == module) &&
			(typ == "" || qn.Type == typ)
	}))
}

func (s *Server) searchQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	term := strings.ToLower(strings.TrimSpace(q.Get("search")))
	subject := q.Get("subject")
	year, _ := strconv.Atoi(q.Get("year"))
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	matched := filter(s.catalog.Questions, func(qn api.Question) bool {
		return (term == "" || strings.Contains(strings.ToLower(qn.Text), term)) &&
			(subject == "" || qn.Subject == subject) &&
			(year == 0 || qn.Year == year)
	})

	start := min((page-1)*limit, len(matched))
	end := min(start+limit, len(matched))
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    slices.Clone(matched[start:end]),
		Count:   len(matched),
	})
}
