// Command todo is the terminal client of the todo API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"todostarter/internal/client"
	"todostarter/internal/config"
	"todostarter/internal/identity"
	"todostarter/internal/logging"
	"todostarter/internal/querycache"
	"todostarter/internal/todo"
	"todostarter/internal/tui"
)

// cli holds the session cache and todo list shared by every command.
type cli struct {
	cfg         config.Client
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	log         *log.Logger
	api         *client.Client
	session     *identity.Cache
	list        *todo.List
	unsubscribe func()
}

// newRootCmd builds the command tree. The caller must call close on the
// returned cli once Execute returns, whatever the outcome.
func newRootCmd(cfg config.Client, in io.Reader, out, errOut io.Writer) (*cobra.Command, *cli) {
	c := &cli{cfg: cfg, in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "todo",
		Short:         "Manage your todos from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfg.APIURL, "api-url", cfg.APIURL, "Base URL of the todo API (or set TODO_API_URL)")
	flags.StringVar(&c.cfg.SessionFile, "session-file", cfg.SessionFile, "Where the signed-in session is kept")
	flags.StringVar(&c.cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	root.AddCommand(
		c.signUpCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.verifyCmd(),
		c.resetPasswordCmd(),
		c.listCmd(),
		c.searchCmd(),
		c.addCmd(),
		c.editCmd(),
		c.toggleCmd(),
		c.removeCmd(),
		c.clearCompletedCmd(),
		c.uiCmd(),
	)
	return root, c
}

func (c *cli) setup() error {
	c.log = logging.New(c.cfg.LogLevel, logging.Text, c.errOut)
	c.api = client.New(c.cfg.APIURL, client.WithLogger(c.log))
	c.session = identity.NewCache(c.api,
		identity.WithStore(identity.NewFileStore(c.cfg.SessionFile)),
		identity.WithStaleTime(c.cfg.SessionStaleTime),
		identity.WithLogger(c.log),
	)
	c.list = todo.NewList(todo.NewGateway(c.api, c.session), querycache.New[[]todo.Todo](), c.cfg.StaleTime, c.log)
	c.unsubscribe = c.session.OnChange(func(event identity.Event, _ identity.Session) {
		if event == identity.SignedOut {
			c.list.Reset()
		}
	})
	if err := c.session.Restore(); err != nil {
		c.log.WithError(err).Warn("stored session could not be read, signing in again is required")
	}
	return nil
}

func (c *cli) close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, c := newRootCmd(config.LoadClient(), os.Stdin, os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	c.close()
	if err != nil {
		tui.Fail(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func (c *cli) uiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Open the interactive list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.requireSession(cmd.Context()); err != nil {
				return err
			}
			return tui.Run(cmd.Context(), c.list)
		},
	}
}

func (c *cli) requireSession(ctx context.Context) (identity.Session, error) {
	s, ok, err := c.session.Current(ctx)
	if err != nil {
		return identity.Session{}, fmt.Errorf("check session: %w", err)
	}
	if !ok {
		return identity.Session{}, todo.ErrUnauthenticated
	}
	return s, nil
}
