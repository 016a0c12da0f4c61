package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kinship-app/kinship/internal/frontend"
	"github.com/kinship-app/kinship/internal/frontend/client"
	"github.com/kinship-app/kinship/internal/frontend/login"
	"github.com/kinship-app/kinship/internal/frontend/notify"
	"github.com/kinship-app/kinship/internal/frontend/profile"
	httpclient "github.com/kinship-app/kinship/internal/platform/http/client"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// errReported marks failures already shown to the user as a toast.
var errReported = errors.New("reported")

type reportedError struct{ err error }

func (e reportedError) Error() string   { return e.err.Error() }
func (e reportedError) Unwrap() []error { return []error{e.err, errReported} }

// toasted wraps an error the frontend already showed as a toast.
func toasted(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err}
}

// session is the per-invocation wiring shared by subcommands.
type session struct {
	statePath string
	server    string
	timeout   time.Duration
	logLevel  string

	in  io.Reader
	out io.Writer

	state *State
	api   *client.Client
	app   *frontend.App
	log   *slog.Logger
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	s := &session{in: in, out: out}

	root := &cobra.Command{
		Use:           "kinshipctl",
		Short:         "Terminal client for a kinship server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.open(errOut)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if s.app != nil {
				s.app.Close()
			}
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&s.statePath, "state", defaultStatePath(), "Path to the client state file")
	root.PersistentFlags().StringVar(&s.server, "server", "", "Server URL (overrides the state file)")
	root.PersistentFlags().DurationVar(&s.timeout, "timeout", 15*time.Second, "Per-request timeout")
	root.PersistentFlags().StringVar(&s.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		s.loginCmd(),
		s.logoutCmd(),
		s.whoamiCmd(),
		s.profileCmd(),
		s.actionCmd("connect", "Send a connection request", profile.ActionConnect),
		s.actionCmd("accept", "Accept a connection request from a user", profile.ActionAccept),
		s.actionCmd("reject", "Reject a connection request from a user", profile.ActionReject),
		s.actionCmd("remove", "Remove a connection", profile.ActionRemove),
		s.requestsCmd(),
	)
	return root
}

func (s *session) open(errOut io.Writer) error {
	s.log = logutil.New(errOut, "text", s.logLevel)

	st, err := loadState(s.statePath)
	if err != nil {
		return err
	}
	if s.server != "" {
		st.Server = s.server
	}
	s.state = st

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = s.timeout
	hc, err := httpclient.New(cfg)
	if err != nil {
		return err
	}
	api, err := client.New(st.Server, httpclient.NewContextClient(hc), s.log)
	if err != nil {
		return err
	}
	api.SetToken(st.Token)
	s.api = api
	s.app = frontend.New(api, api, api, frontend.Options{
		Notifier: notify.NewTerminal(s.out),
		Log:      s.log,
	})
	return nil
}

func (s *session) saveState() error {
	s.state.Token = s.api.Token()
	if s.state.Token == "" {
		s.state.Username = ""
	}
	return s.state.save(s.statePath)
}

func (s *session) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login USERNAME",
		Short: "Sign in and remember the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("KINSHIP_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(s.out, "Password: ")
				line, err := bufio.NewReader(s.in).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}

			f := s.app.LoginForm()
			f.SetUsername(args[0])
			f.SetPassword(password)
			sess, err := f.Submit(cmd.Context())
			if errors.Is(err, login.ErrIncomplete) {
				return err
			}
			if err != nil {
				return toasted(err)
			}
			s.state.Username = sess.User.Username
			if err := s.saveState(); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Logged in as %s\n", sess.User.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (default: $KINSHIP_PASSWORD, else read from stdin)")
	return cmd
}

func (s *session) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := s.app.Logout(cmd.Context())
			if serr := s.saveState(); serr != nil {
				return serr
			}
			// An expired session is as good as logged out.
			if err != nil && !client.IsUnauthenticated(err) {
				return err
			}
			fmt.Fprintln(s.out, "Logged out")
			return nil
		},
	}
}

func (s *session) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := s.app.CurrentUser(cmd.Context())
			if err != nil {
				return notSignedIn(err)
			}
			fmt.Fprintf(s.out, "%s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
}

func notSignedIn(err error) error {
	if client.IsUnauthenticated(err) {
		return errors.New("not signed in; run kinshipctl login")
	}
	return err
}

// header loads the profile header of username, or of the viewer when empty.
func (s *session) header(ctx context.Context, username string) (*profile.Header, error) {
	if username == "" {
		u, err := s.app.CurrentUser(ctx)
		if err != nil {
			return nil, notSignedIn(err)
		}
		username = u.Username
	}
	h, err := s.app.Header(ctx, username)
	if err != nil {
		return nil, notSignedIn(err)
	}
	return h, nil
}

func (s *session) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit profiles",
	}

	show := &cobra.Command{
		Use:   "show [USERNAME]",
		Short: "Show a profile (default: your own)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := ""
			if len(args) == 1 {
				username = args[0]
			}
			h, err := s.header(cmd.Context(), username)
			if err != nil {
				return err
			}
			defer h.Close()
			renderProfile(s.out, newStyles(s.out), h.View())
			return nil
		},
	}

	var name, headline, location, banner, avatar string
	edit := &cobra.Command{
		Use:   "edit",
		Short: "Edit your own profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := s.header(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer h.Close()
			if err := h.Edit(); err != nil {
				return err
			}

			texts := []struct {
				flag  string
				field profile.Field
				value string
			}{
				{"name", profile.FieldName, name},
				{"headline", profile.FieldHeadline, headline},
				{"location", profile.FieldLocation, location},
			}
			touched := 0
			for _, t := range texts {
				if !cmd.Flags().Changed(t.flag) {
					continue
				}
				if err := h.Set(t.field, t.value); err != nil {
					return err
				}
				touched++
			}
			for _, img := range []struct {
				field profile.Field
				path  string
			}{
				{profile.FieldBannerImg, banner},
				{profile.FieldProfilePicture, avatar},
			} {
				if img.path == "" {
					continue
				}
				if err := setImageFile(h, img.field, img.path); err != nil {
					return err
				}
				touched++
			}
			if touched == 0 {
				h.Cancel()
				return errors.New("nothing to change; pass --name, --headline, --location, --banner or --avatar")
			}

			if err := h.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Profile saved")
			renderProfile(s.out, newStyles(s.out), h.View())
			return nil
		},
	}
	edit.Flags().StringVar(&name, "name", "", "Display name")
	edit.Flags().StringVar(&headline, "headline", "", "Headline")
	edit.Flags().StringVar(&location, "location", "", "Location")
	edit.Flags().StringVar(&banner, "banner", "", "Banner image file")
	edit.Flags().StringVar(&avatar, "avatar", "", "Profile picture file")

	cmd.AddCommand(show, edit)
	return cmd
}

func setImageFile(h *profile.Header, f profile.Field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return h.SetImage(f, file)
}

// actionCmd presses the header button of the given kind on USERNAME's profile.
func (s *session) actionCmd(use, short string, kind profile.ActionKind) *cobra.Command {
	return &cobra.Command{
		Use:   use + " USERNAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := s.header(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer h.Close()

			v := h.View()
			if v.Own {
				return errors.New("that is your own profile")
			}
			for _, a := range v.Actions {
				if a.Kind == kind && !a.Disabled {
					return toasted(h.Trigger(cmd.Context(), a))
				}
			}
			return fmt.Errorf("cannot %s %s: connection status is %s", use, args[0], describe(v))
		},
	}
}

func describe(v profile.View) string {
	if len(v.Actions) == 1 && v.Actions[0].Disabled {
		return strings.ToLower(v.Actions[0].Label)
	}
	if v.Connection.Status != "" {
		return strings.ReplaceAll(string(v.Connection.Status), "_", " ")
	}
	return v.Connection.Phase.String()
}

func (s *session) requestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests",
		Short: "List connection requests you have received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reqs, err := s.app.Inbox.Requests(cmd.Context())
			if err != nil {
				return notSignedIn(err)
			}
			renderRequests(s.out, newStyles(s.out), reqs)
			return nil
		},
	}
}
