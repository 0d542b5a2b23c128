package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/noah-isme/pandebugger-api/internal/models"
)

// passwordPrompt reads a secret after writing prompt.
type passwordPrompt func(prompt string) (string, error)

func newUsersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUsersCreateCommand(ctx, nil))
	return cmd
}

// newUsersCreateCommand builds "users create". A nil prompt reads from the command's stdin.
func newUsersCreateCommand(ctx *commandContext, prompt passwordPrompt) *cobra.Command {
	var req models.CreateUserRequest
	var role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user, prompting for the password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.services(cmd.Context())
			if err != nil {
				return err
			}
			roleID, err := resolveRole(svc.users.ListRoles(), role)
			if err != nil {
				return err
			}
			req.RoleID = roleID

			read := prompt
			if read == nil {
				read = newPasswordReader(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			password, err := read("Password: ")
			if err != nil {
				return err
			}
			confirm, err := read("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			req.Password = password

			// Actor 0 records the new account as its own creator.
			user, err := svc.users.Create(cmd.Context(), 0, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d <%s> with role %s\n", user.ID, user.Email, user.RoleName)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Names, "names", "", "Given names")
	cmd.Flags().StringVar(&req.Surnames, "surnames", "", "Surnames")
	cmd.Flags().StringVar(&req.Email, "email", "", "Login email")
	cmd.Flags().StringVar(&role, "role", "Admin", "Role name or id")
	_ = cmd.MarkFlagRequired("names")
	_ = cmd.MarkFlagRequired("surnames")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func resolveRole(roles []models.Role, value string) (int64, error) {
	value = strings.TrimSpace(value)
	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		for _, r := range roles {
			if r.ID == id {
				return id, nil
			}
		}
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, value) {
			return r.ID, nil
		}
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return 0, fmt.Errorf("unknown role %q (available: %s)", value, strings.Join(names, ", "))
}

// newPasswordReader hides input on a terminal and falls back to reading lines otherwise.
func newPasswordReader(in io.Reader, out io.Writer) passwordPrompt {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return func(prompt string) (string, error) {
			fmt.Fprint(out, prompt)
			raw, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(out)
			if err != nil {
				return "", fmt.Errorf("read password: %w", err)
			}
			return string(raw), nil
		}
	}
	lines := bufio.NewReader(in)
	return func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		line, err := lines.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}
