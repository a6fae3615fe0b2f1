package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/heritage-client/internal/model"
	"github.com/nhle/heritage-client/internal/ui/login"
)

var (
	loginIdentifier string
	loginNoRemember bool
)

// loginCmd signs in and remembers the session unless told not to.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in",
	Long: `Sign in with your email or username.

Without --user an interactive form asks for everything. With --user the
password is prompted for, or read from the first line of stdin when stdin
is not a terminal.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

// logoutCmd ends the session and forgets the remembered token.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the remembered session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

// whoamiCmd prints the signed-in user's profile.
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&loginIdentifier, "user", "u", "", "Email or username")
	loginCmd.Flags().BoolVar(&loginNoRemember, "no-remember", false, "Do not keep the session after this command")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var creds model.Credentials
	if loginIdentifier == "" && interactive() {
		var err error
		if creds, err = login.Prompt(ctx, ""); err != nil {
			return err
		}
		if loginNoRemember {
			creds.Remember = false
		}
	} else {
		secret, err := readSecret(ctx, "Password")
		if err != nil {
			return err
		}
		creds = model.Credentials{Identifier: loginIdentifier, Secret: secret, Remember: !loginNoRemember}
	}

	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.session.Login(ctx, creds); err != nil {
		return err
	}
	user := rt.session.Snapshot().User
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", user.DisplayName())
	if !creds.Remember {
		fmt.Fprintln(cmd.OutOrStdout(), "Session not remembered; it ends with this command.")
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.restore(cmd.Context())
	if err := rt.session.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.requireSession(cmd.Context()); err != nil {
		return err
	}
	printUser(cmd, rt.session.Snapshot().User)
	return nil
}

func printUser(cmd *cobra.Command, u *model.User) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:     %s\n", u.DisplayName())
	fmt.Fprintf(out, "Username: %s\n", u.Username)
	fmt.Fprintf(out, "Email:    %s\n", u.Email)
	fmt.Fprintf(out, "Role:     %s\n", u.EffectiveRole())
}
