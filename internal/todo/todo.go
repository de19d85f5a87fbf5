// Package todo holds the todo feature: the record type, input validation,
// the remote data gateway and the synchronized list used by clients.
package todo

import (
	"sort"
	"time"
)

// Todo is one row of the remote "todos" resource.
type Todo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRow is the insert payload. UserID is always the authenticated caller.
type NewRow struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	UserID    string `json:"user_id"`
}

// Patch is the update payload. Nil fields are not sent and are left
// untouched by the row store.
type Patch struct {
	Title     *string   `json:"title,omitempty"`
	Completed *bool     `json:"completed,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SortNewestFirst orders todos by creation time, newest first. Equal
// timestamps keep the order they arrived in.
func SortNewestFirst(items []Todo) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func withCompleted(items []Todo, id string, completed bool) []Todo {
	out := make([]Todo, len(items))
	copy(out, items)
	for i := range out {
		if out[i].ID == id {
			out[i].Completed = completed
		}
	}
	return out
}
