package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"autoeditor/session"
)

func newSessionCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newLoginCommand(ctx),
		newLogoutCommand(ctx),
		newWhoamiCommand(ctx),
	}
}

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var email, token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the session obtained from the sign-in link",
		Long: "Sign-in happens through the magic link sent by the identity service. " +
			"Paste the token from that link here to sign this machine in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.TrimSpace(email)
			token = strings.TrimSpace(token)
			if email == "" {
				return errors.New("--email is required")
			}
			if token == "" {
				return errors.New("--token is required (copy it from the sign-in link)")
			}

			store := ctx.sessionStore()
			prev, err := ctx.currentSession()
			if err != nil {
				ctx.log(cmd).WithError(err).Warn("Replacing unreadable session")
			}
			if err := store.Save(session.Session{Identity: email, Token: token}); err != nil {
				return fmt.Errorf("save session: %w", err)
			}

			out := cmd.OutOrStdout()
			if prev != nil && !session.SameIdentity(prev, &session.Session{Identity: email}) {
				fmt.Fprintf(out, "Signed out %s\n", prev.Identity)
			}
			fmt.Fprintf(out, "Signed in as %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address used to sign in")
	cmd.Flags().StringVar(&token, "token", "", "Session token from the sign-in link")
	return cmd
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.sessionStore().Clear(); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.currentSession()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if sess == nil {
				fmt.Fprintln(out, "Not signed in")
				return nil
			}
			fmt.Fprintf(out, "Signed in as %s (%s)\n", sess.Identity, humanize.Time(sess.SignedInAt))
			return nil
		},
	}
}
