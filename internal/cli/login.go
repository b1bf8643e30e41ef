package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Email         string
	PasswordStdin bool
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Long: `Sign in with email and password. The session is stored locally and
refreshed on later runs until you log out.

Example:
  attendance login --email teacher@example.com
  echo "$PASSWORD" | attendance login --email teacher@example.com --password-stdin`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (prompted when empty)")
	cmd.Flags().BoolVar(&opts.PasswordStdin, "password-stdin", false, "read the password from stdin")

	return cmd
}

func runLogin(cmd *cobra.Command, opts *LoginOptions) error {
	in := bufio.NewReader(cmd.InOrStdin())
	email := strings.TrimSpace(opts.Email)
	if email == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Email: ")
		line, err := readLine(in)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read email", err)
		}
		email = line
	}
	password, err := readPassword(cmd, in, opts.PasswordStdin)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read password", err)
	}
	if email == "" || password == "" {
		return NewExitError(ExitCommandError, "email and password are required")
	}

	svc, err := newServices(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer svc.Close()

	user, err := svc.gateway.SignIn(commandContext(cmd), email, password)
	if err != nil {
		return WrapExitError(ExitCommandError, "sign in failed", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.Email)
	return nil
}

// readPassword prompts without echo on a terminal and reads a plain line
// otherwise.
func readPassword(cmd *cobra.Command, in *bufio.Reader, fromStdin bool) (string, error) {
	if !fromStdin {
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			pass, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			return string(pass), err
		}
	}
	return readLine(in)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "logout",
		Short:         "Sign out and forget the stored session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newServices(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx := commandContext(cmd)
			if svc.resolveSession(ctx) == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			if err := svc.gateway.SignOut(ctx); err != nil {
				// The local session is gone either way.
				svc.log.Warn("auth: server sign out failed", "err", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}
