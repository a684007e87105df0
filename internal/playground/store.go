// Package playground stores chat playground projects and serves them at
// /api/playground/projects. Storage is either process memory, which resets on
// every deploy, or a single json document in redis.
package playground

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MaxMessages caps the history kept per project. Older messages are dropped first.
const MaxMessages = 200

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Project timestamps are unix milliseconds, the format the frontend sends.
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Messages    []Message `json:"messages"`
	CreatedAt   int64     `json:"createdAt"`
	UpdatedAt   int64     `json:"updatedAt"`
}

type Store interface {
	// List returns every project, most recently updated first.
	List(ctx context.Context) ([]Project, error)
	// Save inserts p or replaces the project with the same ID.
	Save(ctx context.Context, p Project) (Project, error)
	// Delete removes the project with id. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error
}

type stamper struct {
	now   func() time.Time
	newID func() string
}

func defaultStamper() stamper {
	return stamper{now: time.Now, newID: uuid.NewString}
}

// stamp fills the fields a client may leave empty.
func (s stamper) stamp(p Project) Project {
	ms := s.now().UnixMilli()
	if p.ID == "" {
		p.ID = s.newID()
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = ms
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = ms
	}
	if n := len(p.Messages); n > MaxMessages {
		p.Messages = append([]Message(nil), p.Messages[n-MaxMessages:]...)
	}
	if p.Messages == nil {
		p.Messages = []Message{}
	}
	return p
}

func upsert(list []Project, p Project) []Project {
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = p
			return list
		}
	}
	return append(list, p)
}

func remove(list []Project, id string) []Project {
	out := list[:0]
	for _, p := range list {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// sorted returns a copy ordered by UpdatedAt descending. Ties keep insertion order.
func sorted(list []Project) []Project {
	out := make([]Project, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out
}
