package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"todostarter/internal/client"
	"todostarter/internal/todo"
	"todostarter/internal/tui"
)

var errNoPassword = errors.New("a password is required")

func (c *cli) signUpCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "signup EMAIL",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := c.password(password)
			if err != nil {
				return err
			}
			s, err := c.session.SignUp(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			if !s.Valid() {
				tui.OK(c.out, "Account created. Check your inbox to verify "+args[0]+", then run `todo login`.")
				return nil
			}
			tui.OK(c.out, "Account created. Signed in as "+s.Email+".")
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when omitted)")
	return cmd
}

func (c *cli) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login EMAIL",
		Short: "Sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := c.password(password)
			if err != nil {
				return err
			}
			s, err := c.session.SignIn(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			tui.OK(c.out, "Signed in as "+s.Email+".")
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when omitted)")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.session.SignOut(cmd.Context()); err != nil {
				c.log.WithError(err).Warn("sign-out incomplete")
			}
			tui.OK(c.out, "Signed out.")
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.requireSession(cmd.Context())
			if err != nil {
				return err
			}
			tui.Panel(c.out, []string{
				"Email: " + s.Email,
				"User:  " + s.UserID,
			})
			return nil
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Confirm your email address with the emailed token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.api.VerifyEmail(cmd.Context(), args[0]); err != nil {
				return err
			}
			tui.OK(c.out, "Email verified. You can sign in now.")
			return nil
		},
	}
}

func (c *cli) resetPasswordCmd() *cobra.Command {
	var token, password string
	cmd := &cobra.Command{
		Use:   "reset-password [EMAIL]",
		Short: "Request a password reset, or finish one with --token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				if len(args) != 1 {
					return errors.New("an email address is required to request a reset")
				}
				if err := c.api.RequestPasswordReset(cmd.Context(), args[0]); err != nil {
					return err
				}
				tui.OK(c.out, "If an account exists for "+args[0]+", a reset link is on its way.")
				return nil
			}
			pw, err := c.password(password)
			if err != nil {
				return err
			}
			if err := c.api.ResetPassword(cmd.Context(), token, pw); err != nil {
				return err
			}
			tui.OK(c.out, "Password changed. Sign in with the new password.")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Reset token from the email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "New password (read from stdin when omitted)")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show your todos, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := c.list.Todos(cmd.Context())
			if err != nil {
				return err
			}
			tui.PrintTodos(c.out, items)
			return nil
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Find todos by title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := c.session.Identity(cmd.Context())
			if err != nil {
				return err
			}
			items, err := c.api.SearchTodos(cmd.Context(), owner, strings.Join(args, " "))
			if err != nil {
				return err
			}
			tui.PrintTodos(c.out, items)
			return nil
		},
	}
}

func (c *cli) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add TITLE...",
		Short: "Add a todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := c.list.Add(cmd.Context(), todo.Input{Title: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			tui.OK(c.out, fmt.Sprintf("Added %s %s", tui.ShortID(created.ID), created.Title))
			return nil
		},
	}
}

func (c *cli) editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit ID TITLE...",
		Short: "Rename a todo",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := c.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			updated, err := c.list.Update(cmd.Context(), target.ID, todo.UpdateInput{Title: &title})
			if err != nil {
				return err
			}
			tui.OK(c.out, "Renamed to "+updated.Title)
			return nil
		},
	}
}

func (c *cli) toggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle ID",
		Short: "Mark a todo done, or not done again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := c.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			updated, err := c.list.Toggle(cmd.Context(), target.ID, !target.Completed)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, tui.RenderTodo(updated))
			return nil
		},
	}
}

func (c *cli) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a todo",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := c.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := c.list.Delete(cmd.Context(), target.ID); err != nil {
				return err
			}
			tui.OK(c.out, "Deleted "+target.Title)
			return nil
		},
	}
}

func (c *cli) clearCompletedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Delete every completed todo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := c.list.DeleteCompleted(cmd.Context())
			if err != nil {
				return err
			}
			tui.OK(c.out, fmt.Sprintf("Cleared %d completed todo(s).", n))
			return nil
		},
	}
}

// resolve finds the todo whose id starts with prefix.
func (c *cli) resolve(ctx context.Context, prefix string) (todo.Todo, error) {
	items, err := c.list.Todos(ctx)
	if err != nil {
		return todo.Todo{}, err
	}
	var matches []todo.Todo
	for _, item := range items {
		if item.ID == prefix {
			return item, nil
		}
		if strings.HasPrefix(item.ID, prefix) {
			matches = append(matches, item)
		}
	}
	switch len(matches) {
	case 0:
		return todo.Todo{}, fmt.Errorf("%w: %s", todo.ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	}
	return todo.Todo{}, fmt.Errorf("id %q matches %d todos, use more characters", prefix, len(matches))
}

// password returns flag, or the first line of stdin when flag is empty.
func (c *cli) password(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fmt.Fprint(c.errOut, "Password: ")
	line, err := bufio.NewReader(c.in).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", errors.Join(errNoPassword, err))
		}
		return "", errNoPassword
	}
	return line, nil
}

func describe(err error) string {
	var verr *todo.ValidationError
	if errors.As(err, &verr) {
		msgs := make([]string, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			msgs = append(msgs, f.Message)
		}
		if len(msgs) == 0 {
			return verr.Error()
		}
		return strings.Join(msgs, "; ")
	}
	if errors.Is(err, todo.ErrUnauthenticated) {
		return "You are not signed in. Run `todo login EMAIL` first."
	}
	if errors.Is(err, todo.ErrNotFound) {
		return "No such todo."
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
