package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/mindease/mindease/app"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/objectstore"
	"github.com/mindease/mindease/profile"
	"github.com/mindease/mindease/tickets"
	"google.golang.org/grpc/codes"
)

var errUsage = errors.NewC("mindctl: usage", codes.InvalidArgument)

type cli struct {
	app          *app.App
	out          io.Writer
	readPassword func(prompt string) (string, error)
}

func (c *cli) run(ctx context.Context, args []string) error {
	cmd, args := args[0], args[1:]
	need := func(n int) error {
		if len(args) != n {
			return errors.Mark(errUsage, 0).Append(cmd)
		}
		return nil
	}
	s := c.app.Session

	switch cmd {
	case "signup":
		if err := need(2); err != nil {
			return err
		}
		pw, err := c.readPassword("Password: ")
		if err != nil {
			return err
		}
		return c.report(s.Signup(ctx, args[0], pw, args[1]))

	case "login":
		if err := need(1); err != nil {
			return err
		}
		pw, err := c.readPassword("Password: ")
		if err != nil {
			return err
		}
		return c.report(s.Login(ctx, args[0], pw))

	case "login-google":
		return c.report(s.LoginWithProvider(ctx))

	case "logout":
		return c.report(s.Logout(ctx))

	case "whoami":
		return c.whoami()

	case "set":
		if len(args) == 1 && profile.Field(args[0]) == profile.FieldPassword {
			pw, err := c.readPassword("New password: ")
			if err != nil {
				return err
			}
			args = append(args, pw)
		}
		if err := need(2); err != nil {
			return err
		}
		return c.report(s.UpdateProfile(ctx, profile.Field(args[0]), args[1]))

	case "avatar":
		if err := need(1); err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return errors.WrapPrefix(err, "mindctl: read avatar", 0)
		}
		name := filepath.Base(args[0])
		return c.report(s.UploadAvatar(ctx, objectstore.File{
			Name:        name,
			ContentType: mime.TypeByExtension(filepath.Ext(name)),
			Data:        data,
		}))

	case "avatar-delete":
		return c.report(s.DeleteAvatar(ctx))

	case "reset-password":
		if err := need(1); err != nil {
			return err
		}
		return c.report(s.SendPasswordReset(ctx, args[0]))

	case "ban", "unban", "monitor":
		if err := need(1); err != nil {
			return err
		}
		op := map[string]func(context.Context, string) error{
			"ban":     s.BanUser,
			"unban":   s.UnbanUser,
			"monitor": s.MonitorUser,
		}[cmd]
		return c.report(op(ctx, args[0]))

	case "grant-admin":
		if err := need(1); err != nil {
			return err
		}
		return c.grantAdmin(ctx, args[0])

	case "ticket":
		return c.ticket(ctx, args)

	case "tickets":
		return c.tickets(ctx)
	}
	return errors.Mark(errUsage, 0).Append("unknown command " + cmd)
}

// report prints the session's success message, or returns err.
func (c *cli) report(err error) error {
	if err != nil {
		return err
	}
	if msg := c.app.Session.Success(); msg != "" {
		fmt.Fprintln(c.out, msg)
	}
	return nil
}

func (c *cli) whoami() error {
	st := c.app.Session.State()
	if !st.IsAuthenticated() {
		fmt.Fprintln(c.out, "not signed in")
		return nil
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "uid\t%s\n", st.Identity.Subject)
	fmt.Fprintf(w, "email\t%s\n", st.Identity.Email)
	fmt.Fprintf(w, "provider\t%s\n", st.Identity.Provider)
	if p := st.Profile; p != nil {
		fmt.Fprintf(w, "name\t%s\n", p.DisplayName)
		fmt.Fprintf(w, "phone\t%s\n", p.Phone)
		fmt.Fprintf(w, "address\t%s\n", p.Address)
		fmt.Fprintf(w, "avatar\t%s\n", p.Avatar)
	}
	fmt.Fprintf(w, "admin\t%t\n", st.IsAdmin)
	fmt.Fprintf(w, "banned\t%t\n", st.IsBanned)
	fmt.Fprintf(w, "online\t%t\n", st.IsOnline)
	fmt.Fprintf(w, "cached\t%t\n", st.FromCache)
	return w.Flush()
}

// grantAdmin writes the role directly to the document store. It is meant for
// bootstrapping the first admin on a store the operator controls.
func (c *cli) grantAdmin(ctx context.Context, email string) error {
	p, err := c.app.Profiles.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := c.app.Profiles.GrantAdmin(ctx, p.UID); err != nil {
		return err
	}
	logging.Warnw(ctx, "mindctl: granted admin role", "uid", p.UID, "email", email)
	fmt.Fprintf(c.out, "%s is now an admin\n", email)
	return nil
}

func (c *cli) ticket(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ticket", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	category := fs.String("category", "general", "ticket category")
	priority := fs.String("priority", string(tickets.PriorityNormal), "low, normal or high")
	if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
		return errors.Mark(errUsage, 0).Append("ticket")
	}
	t, err := c.app.Tickets.Create(ctx, c.app.Actor(), tickets.Input{
		Subject:  fs.Arg(0),
		Message:  fs.Arg(1),
		Category: *category,
		Priority: tickets.Priority(*priority),
	})
	if err != nil {
		if wait, ok := tickets.RetryAfter(err); ok {
			return errors.Wrap(err, 0).Append(fmt.Sprintf("retry in %s", wait.Round(time.Minute)))
		}
		return err
	}
	fmt.Fprintf(c.out, "Ticket %s created.\n", t.ID)
	return nil
}

func (c *cli) tickets(ctx context.Context) error {
	list, err := c.app.Tickets.List(ctx, c.app.Actor())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(c.out, "no tickets")
		return nil
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSTATUS\tPRIORITY\tSUBJECT")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.CreatedAt.Format("2006-01-02 15:04"), t.Status, t.Priority, t.Subject)
	}
	return w.Flush()
}
