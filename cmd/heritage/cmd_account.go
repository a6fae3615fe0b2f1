package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/heritage-client/internal/model"
)

var (
	reg        model.Registration
	resetEmail string
	resetToken string
)

// registerCmd creates an account. It does not sign in.
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

// passwordCmd groups the password operations.
var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change or reset your password",
	Long: `Change or reset your password.

Available subcommands:
  change - Change the password of the signed-in account
  forgot - Email a reset link
  reset  - Set a new password with the token from the reset email`,
}

var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the password of the signed-in account",
	Args:  cobra.NoArgs,
	RunE:  runPasswordChange,
}

var passwordForgotCmd = &cobra.Command{
	Use:   "forgot",
	Short: "Email a password reset link",
	Args:  cobra.NoArgs,
	RunE:  runPasswordForgot,
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Set a new password using a reset token",
	Args:  cobra.NoArgs,
	RunE:  runPasswordReset,
}

// profileCmd shows or edits the signed-in user's profile.
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update your profile",
	Long: `Show your profile, or update it when any of the field flags is given.

Example:
  heritage profile --first-name Ada --last-name Lovelace`,
	Args: cobra.NoArgs,
	RunE: runProfile,
}

func init() {
	registerCmd.Flags().StringVar(&reg.Username, "username", "", "Username (required)")
	registerCmd.Flags().StringVar(&reg.Email, "email", "", "Email address (required)")
	registerCmd.Flags().StringVar(&reg.FirstName, "first-name", "", "First name")
	registerCmd.Flags().StringVar(&reg.LastName, "last-name", "", "Last name")
	registerCmd.Flags().StringVar(&reg.FullName, "full-name", "", "Full name")
	registerCmd.MarkFlagRequired("username")
	registerCmd.MarkFlagRequired("email")

	passwordForgotCmd.Flags().StringVar(&resetEmail, "email", "", "Account email (required)")
	passwordForgotCmd.MarkFlagRequired("email")
	passwordResetCmd.Flags().StringVar(&resetToken, "token", "", "Token from the reset email (required)")
	passwordResetCmd.MarkFlagRequired("token")
	passwordCmd.AddCommand(passwordChangeCmd, passwordForgotCmd, passwordResetCmd)

	profileCmd.Flags().String("username", "", "New username")
	profileCmd.Flags().String("email", "", "New email address")
	profileCmd.Flags().String("first-name", "", "New first name")
	profileCmd.Flags().String("last-name", "", "New last name")
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	secret, err := readNewSecret(ctx, "Password")
	if err != nil {
		return err
	}
	reg.Password = secret

	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	user, err := rt.session.Register(ctx, reg)
	if err != nil {
		return err
	}
	name := reg.Username
	if user != nil {
		name = user.DisplayName()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Account created for %s. Sign in with 'heritage login'.\n", name)
	return nil
}

func runPasswordChange(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.requireSession(ctx); err != nil {
		return err
	}
	current, err := readSecret(ctx, "Current password")
	if err != nil {
		return err
	}
	next, err := readNewSecret(ctx, "New password")
	if err != nil {
		return err
	}
	if err := rt.session.ChangePassword(ctx, current, next); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Password changed")
	return nil
}

func runPasswordForgot(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.session.RequestPasswordReset(cmd.Context(), resetEmail); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "If an account exists for %s, a reset link is on its way.\n", resetEmail)
	return nil
}

func runPasswordReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	next, err := readNewSecret(ctx, "New password")
	if err != nil {
		return err
	}

	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.session.ResetPassword(ctx, resetToken, next); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Password reset. Sign in with 'heritage login'.")
	return nil
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.requireSession(ctx); err != nil {
		return err
	}

	var upd model.ProfileUpdate
	changed := false
	for flag, dst := range map[string]**string{
		"username":   &upd.Username,
		"email":      &upd.Email,
		"first-name": &upd.FirstName,
		"last-name":  &upd.LastName,
	} {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		v, _ := cmd.Flags().GetString(flag)
		*dst = &v
		changed = true
	}
	if !changed {
		printUser(cmd, rt.session.Snapshot().User)
		return nil
	}

	user, err := rt.session.UpdateProfile(ctx, upd)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Profile updated")
	if user != nil {
		printUser(cmd, user)
	}
	return nil
}
