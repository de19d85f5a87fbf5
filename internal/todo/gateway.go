package todo

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Identity is the authenticated caller. UserID is the ownership filter
// applied to every row operation.
type Identity struct {
	UserID      string
	Email       string
	AccessToken string
}

// IdentitySource supplies the current caller. ErrUnauthenticated or an empty
// UserID means there is no valid identity; any other error is a failure to
// find out.
type IdentitySource interface {
	Identity(ctx context.Context) (Identity, error)
}

// Rows is the remote row store for the todos resource. Implementations must
// restrict every statement to rows whose user_id equals owner.UserID and
// return ErrNotFound when an id is not reachable under that filter.
type Rows interface {
	SelectTodos(ctx context.Context, owner Identity) ([]Todo, error)
	InsertTodo(ctx context.Context, owner Identity, row NewRow) (Todo, error)
	UpdateTodo(ctx context.Context, owner Identity, id string, patch Patch) (Todo, error)
	DeleteTodo(ctx context.Context, owner Identity, id string) error
	DeleteCompletedTodos(ctx context.Context, owner Identity) ([]string, error)
}

// Gateway validates input, resolves the caller and issues exactly one row
// store call per operation. It never retries.
type Gateway struct {
	rows     Rows
	identity IdentitySource
	now      func() time.Time
}

func NewGateway(rows Rows, identity IdentitySource) *Gateway {
	return &Gateway{rows: rows, identity: identity, now: time.Now}
}

func (g *Gateway) List(ctx context.Context) ([]Todo, error) {
	owner, err := g.owner(ctx)
	if err != nil {
		return nil, err
	}
	items, err := g.rows.SelectTodos(ctx, owner)
	if err != nil {
		return nil, &RemoteError{Op: "fetch todos", Err: err}
	}
	if items == nil {
		items = []Todo{}
	}
	SortNewestFirst(items)
	return items, nil
}

func (g *Gateway) Add(ctx context.Context, in Input) (Todo, error) {
	valid, err := ValidateInput(in)
	if err != nil {
		return Todo{}, err
	}
	owner, err := g.owner(ctx)
	if err != nil {
		return Todo{}, err
	}
	created, err := g.rows.InsertTodo(ctx, owner, NewRow{
		Title:     valid.Title,
		Completed: false,
		UserID:    owner.UserID,
	})
	if err != nil {
		return Todo{}, &RemoteError{Op: "add todo", Err: err}
	}
	return created, nil
}

func (g *Gateway) Update(ctx context.Context, id string, in UpdateInput) (Todo, error) {
	valid, err := ValidateUpdate(in)
	if err != nil {
		return Todo{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Todo{}, &ValidationError{Fields: []FieldError{{Field: "id", Message: "id is required"}}}
	}
	owner, err := g.owner(ctx)
	if err != nil {
		return Todo{}, err
	}
	updated, err := g.rows.UpdateTodo(ctx, owner, id, Patch{
		Title:     valid.Title,
		Completed: valid.Completed,
		UpdatedAt: g.now().UTC(),
	})
	if err != nil {
		return Todo{}, &RemoteError{Op: "update todo", Err: err}
	}
	return updated, nil
}

func (g *Gateway) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Fields: []FieldError{{Field: "id", Message: "id is required"}}}
	}
	owner, err := g.owner(ctx)
	if err != nil {
		return err
	}
	if err := g.rows.DeleteTodo(ctx, owner, id); err != nil {
		return &RemoteError{Op: "delete todo", Err: err}
	}
	return nil
}

// DeleteCompleted removes every completed todo of the caller and returns how
// many rows were deleted.
func (g *Gateway) DeleteCompleted(ctx context.Context) (int, error) {
	ids, err := g.DeleteCompletedIDs(ctx)
	return len(ids), err
}

// DeleteCompletedIDs is DeleteCompleted reporting the removed ids.
func (g *Gateway) DeleteCompletedIDs(ctx context.Context) ([]string, error) {
	owner, err := g.owner(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := g.rows.DeleteCompletedTodos(ctx, owner)
	if err != nil {
		return nil, &RemoteError{Op: "delete completed todos", Err: err}
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (g *Gateway) owner(ctx context.Context) (Identity, error) {
	if g.identity == nil {
		return Identity{}, ErrUnauthenticated
	}
	owner, err := g.identity.Identity(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return Identity{}, err
		}
		return Identity{}, &RemoteError{Op: "resolve identity", Err: err}
	}
	if strings.TrimSpace(owner.UserID) == "" {
		return Identity{}, ErrUnauthenticated
	}
	return owner, nil
}

// StaticIdentity is an IdentitySource with a fixed caller.
type StaticIdentity Identity

func (s StaticIdentity) Identity(context.Context) (Identity, error) {
	return Identity(s), nil
}
