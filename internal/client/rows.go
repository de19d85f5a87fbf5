package client

import (
	"context"
	"net/http"
	"net/url"

	"todostarter/internal/todo"
)

// The API derives the owner from the bearer token, so owner only supplies
// the access token here.
var _ todo.Rows = (*Client)(nil)

type todosBody struct {
	Todos []todo.Todo `json:"todos"`
}

func (c *Client) SelectTodos(ctx context.Context, owner todo.Identity) ([]todo.Todo, error) {
	var out todosBody
	if err := c.do(ctx, http.MethodGet, "/api/todos", owner.AccessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Todos, nil
}

func (c *Client) InsertTodo(ctx context.Context, owner todo.Identity, row todo.NewRow) (todo.Todo, error) {
	var out todo.Todo
	if err := c.do(ctx, http.MethodPost, "/api/todos", owner.AccessToken, todo.Input{Title: row.Title}, &out); err != nil {
		return todo.Todo{}, err
	}
	return out, nil
}

func (c *Client) UpdateTodo(ctx context.Context, owner todo.Identity, id string, patch todo.Patch) (todo.Todo, error) {
	var out todo.Todo
	in := todo.UpdateInput{Title: patch.Title, Completed: patch.Completed}
	if err := c.do(ctx, http.MethodPatch, "/api/todos/"+url.PathEscape(id), owner.AccessToken, in, &out); err != nil {
		return todo.Todo{}, err
	}
	return out, nil
}

func (c *Client) DeleteTodo(ctx context.Context, owner todo.Identity, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/todos/"+url.PathEscape(id), owner.AccessToken, nil, nil)
}

func (c *Client) DeleteCompletedTodos(ctx context.Context, owner todo.Identity) ([]string, error) {
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/todos/completed", owner.AccessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

// SearchTodos asks the API for the caller's todos whose title matches text.
func (c *Client) SearchTodos(ctx context.Context, owner todo.Identity, text string) ([]todo.Todo, error) {
	var out todosBody
	path := "/api/todos?q=" + url.QueryEscape(text)
	if err := c.do(ctx, http.MethodGet, path, owner.AccessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Todos, nil
}
