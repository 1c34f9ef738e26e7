package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/internal/domain"
)

type userView struct {
	ID         string    `json:"id" yaml:"id"`
	Version    uint64    `json:"version" yaml:"version"`
	Email      string    `json:"email" yaml:"email"`
	Role       string    `json:"role" yaml:"role"`
	Locale     string    `json:"locale" yaml:"locale"`
	SignIns    int       `json:"sign_ins" yaml:"sign_ins"`
	LastSignIn time.Time `json:"last_sign_in,omitzero" yaml:"last_sign_in,omitempty"`
	Deleted    bool      `json:"deleted" yaml:"deleted"`
	CreatedBy  string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedOn  time.Time `json:"created_on" yaml:"created_on"`
	UpdatedOn  time.Time `json:"updated_on" yaml:"updated_on"`
	InvitedBy  string    `json:"invited_by,omitempty" yaml:"invited_by,omitempty"`
}

func newUserView(u *domain.User) userView {
	return userView{
		ID:         u.ID().String(),
		Version:    uint64(u.Version()),
		Email:      u.Email,
		Role:       u.Role.String(),
		Locale:     u.Locale.String(),
		SignIns:    u.SignInCount,
		LastSignIn: u.LastSignedIn,
		Deleted:    u.IsDeleted(),
		CreatedBy:  u.CreatedBy().String(),
		CreatedOn:  u.CreatedOn(),
		UpdatedOn:  u.UpdatedOn(),
		InvitedBy:  u.InvitedBy.String(),
	}
}

func (v userView) writeText(w io.Writer) error {
	state := styles.Success.Render("active")
	if v.Deleted {
		state = styles.Error.Render("deleted")
	}
	_, err := fmt.Fprintf(w, "%s %s\n  email:    %s\n  role:     %s\n  locale:   %s\n  sign-ins: %d\n  state:    %s\n",
		styles.Title.Render("user "+v.ID),
		styles.Subtle.Render(fmt.Sprintf("v%d", v.Version)),
		v.Email, v.Role, v.Locale, v.SignIns, state,
	)
	return err
}

func (a *app) userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var actor string
	cmd.PersistentFlags().StringVar(&actor, "actor", "", "actor recorded on raised events")
	raiseOpts := func() []es.RaiseOption {
		if actor == "" {
			return nil
		}
		return []es.RaiseOption{es.WithActor(es.ActorID(actor))}
	}

	cmd.AddCommand(
		a.userCreateCmd(raiseOpts),
		a.userShowCmd(),
		a.userMutateCmd("sign-in <id>", "Record a sign-in", cobra.ExactArgs(1), func(u *domain.User, _ []string, opts []es.RaiseOption) error {
			return u.SignIn(time.Now(), opts...)
		}, raiseOpts),
		a.userMutateCmd("change-email <id> <email>", "Change the email of a user", cobra.ExactArgs(2), func(u *domain.User, args []string, opts []es.RaiseOption) error {
			return u.ChangeEmail(args[1], opts...)
		}, raiseOpts),
		a.userMutateCmd("change-locale <id> <locale>", "Change the locale of a user", cobra.ExactArgs(2), func(u *domain.User, args []string, opts []es.RaiseOption) error {
			tag, err := language.Parse(args[1])
			if err != nil {
				return err
			}
			return u.ChangeLocale(tag, opts...)
		}, raiseOpts),
		a.userMutateCmd("delete <id>", "Delete a user", cobra.ExactArgs(1), func(u *domain.User, _ []string, opts []es.RaiseOption) error {
			return u.Delete(opts...)
		}, raiseOpts),
		a.userMutateCmd("restore <id>", "Restore a deleted user", cobra.ExactArgs(1), func(u *domain.User, _ []string, opts []es.RaiseOption) error {
			return u.Restore(opts...)
		}, raiseOpts),
	)
	return cmd
}

func (a *app) userCreateCmd(raiseOpts func() []es.RaiseOption) *cobra.Command {
	var id, role, locale string
	cmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r domain.Role
			if err := r.UnmarshalText([]byte(role)); err != nil {
				return err
			}
			tag, err := language.Parse(locale)
			if err != nil {
				return err
			}

			repo := a.users()
			u := repo.New()
			if id != "" {
				if err := u.SetID(es.StreamID(id)); err != nil {
					return err
				}
			}
			if err := u.Create(args[0], r, tag, raiseOpts()...); err != nil {
				return err
			}
			// a fixed id must not overwrite an existing stream
			uow, err := es.UnitOfWork{}.Append(u.ID(), u.AggregateType(), es.ShouldNotExist(), u.Changes()...)
			if err != nil {
				return err
			}
			if err := a.env.Store().Commit(cmd.Context(), uow); err != nil {
				return err
			}
			u.ClearChanges()

			loaded, _, err := repo.Load(cmd.Context(), u.ID())
			if err != nil {
				return err
			}
			view := newUserView(loaded)
			return a.print(view, view.writeText)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "stream id (default: generated)")
	cmd.Flags().StringVar(&role, "role", domain.RoleMember.String(), "role (member, admin)")
	cmd.Flags().StringVar(&locale, "locale", "en", "BCP 47 locale")
	return cmd
}

func (a *app) userShowCmd() *cobra.Command {
	var atVersion uint64
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []es.LoadOption
			if atVersion > 0 {
				opts = append(opts, es.AtVersion(es.Version(atVersion)))
			}
			u, err := a.loadUser(cmd, args[0], opts...)
			if err != nil {
				return err
			}
			view := newUserView(u)
			return a.print(view, view.writeText)
		},
	}
	cmd.Flags().Uint64Var(&atVersion, "at-version", 0, "load the user as it was at this version")
	return cmd
}

type userMutation func(u *domain.User, args []string, opts []es.RaiseOption) error

func (a *app) userMutateCmd(use, short string, args cobra.PositionalArgs, mutate userMutation, raiseOpts func() []es.RaiseOption) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.loadUser(cmd, args[0])
			if err != nil {
				return err
			}
			if err := mutate(u, args, raiseOpts()); err != nil {
				return err
			}
			if err := a.users().Save(cmd.Context(), u); err != nil {
				return err
			}
			view := newUserView(u)
			return a.print(view, view.writeText)
		},
	}
}

func (a *app) loadUser(cmd *cobra.Command, id string, opts ...es.LoadOption) (*domain.User, error) {
	sid, err := es.ParseStreamID(id)
	if err != nil {
		return nil, err
	}
	u, ok, err := a.users().Load(cmd.Context(), sid, opts...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	return u, nil
}
