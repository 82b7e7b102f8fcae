package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/service"
)

func (c *CLI) login(ctx context.Context, args []string) error {
	fs := c.flagSet("login")
	username := fs.String("username", "", "account name")
	password := fs.String("password", "", "password, defaults to $"+PasswordEnv)
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if *username == "" && fs.NArg() > 0 {
		*username = fs.Arg(0)
	}
	if *password == "" {
		*password = c.getenv(PasswordEnv)
	}

	session, err := c.app.Auth.Login(ctx, dto.LoginRequest{
		Username: strings.TrimSpace(*username),
		Password: *password,
	})
	if err != nil {
		return failure("login failed", err)
	}
	fmt.Fprintln(c.out, service.Greeting(session))
	return nil
}

func (c *CLI) logout(ctx context.Context, args []string) error {
	if err := c.parse(c.flagSet("logout"), args); err != nil {
		return err
	}
	if err := c.app.Auth.Logout(ctx); err != nil {
		return failure("logout failed", err)
	}
	fmt.Fprintln(c.out, "Signed out.")
	return nil
}

func (c *CLI) register(ctx context.Context, args []string) error {
	fs := c.flagSet("register")
	email := fs.String("email", "", "email address")
	username := fs.String("username", "", "account name")
	password := fs.String("password", "", "password, defaults to $"+PasswordEnv)
	confirm := fs.String("confirm", "", "password confirmation, defaults to -password")
	admin := fs.Bool("admin", false, "create an administrator account")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if *password == "" {
		*password = c.getenv(PasswordEnv)
	}
	if *confirm == "" {
		*confirm = *password
	}

	profile, err := c.app.Auth.Register(ctx, dto.RegisterRequest{
		Email:           *email,
		Username:        *username,
		Password:        *password,
		ConfirmPassword: *confirm,
		IsAdmin:         *admin,
	})
	if err != nil {
		return failure("registration failed", err)
	}
	fmt.Fprintf(c.out, "Registered %s (%s). Sign in with: robotask login -username %s\n",
		profile.Username, models.NormalizeRole(*profile).Label(), profile.Username)
	return nil
}

func (c *CLI) whoami(_ context.Context, args []string) error {
	if err := c.parse(c.flagSet("whoami"), args); err != nil {
		return err
	}
	session := c.app.Auth.Session()
	if session == nil {
		fmt.Fprintln(c.out, "Not signed in.")
		return nil
	}
	fmt.Fprintln(c.out, service.Greeting(session))
	if session.Profile.Email != "" {
		fmt.Fprintf(c.out, "Email:   %s\n", session.Profile.Email)
	}
	if !session.SavedAt.IsZero() {
		fmt.Fprintf(c.out, "Signed in %s\n", humanize.RelTime(session.SavedAt, c.now(), "ago", "from now"))
	}
	if session.ExpiresAt != nil {
		fmt.Fprintf(c.out, "Expires %s\n", humanize.RelTime(*session.ExpiresAt, c.now(), "ago", "from now"))
	}
	return nil
}
