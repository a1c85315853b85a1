package api

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Envelope is the JSON wrapper every backend response uses.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Token   string          `json:"token,omitempty"`
	Count   int             `json:"count,omitempty"`
}

// failureMessage extracts a human message from a failed envelope.
func (e *Envelope) failureMessage(status int) string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Message != "":
		return e.Message
	default:
		return genericStatusMessage(status)
	}
}

func genericStatusMessage(status int) string {
	return fmt.Sprintf("Request failed with status code %d", status)
}

// User is the authenticated user's profile as returned by GET /auth/me.
type User struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Role               string    `json:"role,omitempty"`
	CompletedQuestions []string  `json:"completedQuestions"`
	CreatedAt          time.Time `json:"createdAt,omitzero"`
}

// UnmarshalJSON accepts both "id" and the backend's "_id".
func (u *User) UnmarshalJSON(b []byte) error {
	type plain User
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*u = User(aux.plain)
	if u.ID == "" {
		u.ID = aux.MongoID
	}
	return nil
}

// HasCompleted reports whether id is in the completed list.
func (u *User) HasCompleted(id string) bool {
	for _, q := range u.CompletedQuestions {
		if q == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to readers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.CompletedQuestions = slices.Clone(u.CompletedQuestions)
	return &c
}

// Branch is an academic discipline.
type Branch struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Semester is a term within a branch's program.
type Semester struct {
	ID     string `json:"_id"`
	Number int    `json:"number"`
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// Label renders the semester for display.
func (s Semester) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("Semester %d", s.Number)
}

// Subject is a course within a semester.
type Subject struct {
	ID       string   `json:"_id"`
	Name     string   `json:"name"`
	Code     string   `json:"code,omitempty"`
	Semester string   `json:"semester,omitempty"`
	Branch   string   `json:"branch,omitempty"`
	Modules  []string `json:"modules,omitempty"`
}

// Question is a previous-year exam question.
type Question struct {
	ID      string `json:"_id"`
	Text    string `json:"text"`
	Year    int    `json:"year,omitempty"`
	Marks   int    `json:"marks,omitempty"`
	Type    string `json:"type,omitempty"`
	Module  string `json:"module,omitempty"`
	Subject string `json:"subject,omitempty"`
	Answer  string `json:"answer,omitempty"`
}

// QuestionFilters narrows a subject's question list.
type QuestionFilters struct {
	Year   int
	Module string
	Type   string
}

// SearchParams drives GET /questions.
type SearchParams struct {
	Query   string
	Subject string
	Year    int
	Page    int
	Limit   int
}

// RegisterInput is the payload of POST /auth/register.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
