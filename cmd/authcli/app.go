package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/isdelr/gatekeeper-be/internal/client/apiclient"
	"github.com/isdelr/gatekeeper-be/internal/client/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const usage = `usage: authcli [flags] <command>

commands:
  register   create an account and log in
  login      log in with email and password
  logout     revoke the current token
  me         show the logged in user
  refresh    replace the current token
  users      list registered users
  status     show the locally stored session

flags:
`

// readPassword reads without echo when stdin is a terminal.
var readPassword = term.ReadPassword

type lineReader interface {
	ReadString(delim byte) (string, error)
}

type app struct {
	client *apiclient.Client
	in     lineReader
	// tty is set when stdin is a terminal; prompts and passwords then both
	// read the file directly so neither sees input buffered by the other.
	tty *os.File
	out io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("authcli", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		fmt.Fprint(stdout, usage)
		fs.PrintDefaults()
	}

	server := fs.String("server", envOr("GATEKEEPER_URL", "http://localhost:8080/api"), "API base URL")
	cookies := fs.String("cookies", envOr("GATEKEEPER_COOKIES", defaultCookiePath()), "session cookie file")
	secure := fs.Bool("secure", false, "mark stored cookies as secure")
	verbose := fs.Bool("v", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected exactly one command")
	}
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	store := session.NewStore(session.NewFileStorage(*cookies), session.Options{Secure: *secure})
	if err := store.Rehydrate(); err != nil {
		log.Warn().Err(err).Msg("Discarded stored session")
	}

	a := &app{
		client: apiclient.New(*server, store),
		out:    stdout,
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		a.tty = f
		a.in = unbufferedReader{r: f}
	} else {
		a.in = bufio.NewReader(stdin)
	}

	switch cmd := fs.Arg(0); cmd {
	case "register":
		return a.register(ctx)
	case "login":
		return a.login(ctx)
	case "logout":
		return a.logout(ctx)
	case "me":
		return a.me(ctx)
	case "refresh":
		return a.refresh(ctx)
	case "users":
		return a.users(ctx)
	case "status":
		return a.status()
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) register(ctx context.Context) error {
	name, err := a.prompt("Name")
	if err != nil {
		return err
	}
	email, err := a.prompt("Email")
	if err != nil {
		return err
	}
	password, err := a.password("Password")
	if err != nil {
		return err
	}
	confirmation, err := a.password("Confirm password")
	if err != nil {
		return err
	}

	resp, err := a.client.Register(ctx, apiclient.RegisterRequest{
		Name:                 name,
		Email:                email,
		Password:             password,
		PasswordConfirmation: confirmation,
	})
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(a.out, "%s Logged in as %s.\n", resp.Message, resp.User.Email)
	return nil
}

func (a *app) login(ctx context.Context) error {
	email, err := a.prompt("Email")
	if err != nil {
		return err
	}
	password, err := a.password("Password")
	if err != nil {
		return err
	}

	resp, err := a.client.Login(ctx, email, password)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(a.out, "Logged in as %s.\n", resp.User.Email)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return describe(err)
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func (a *app) me(ctx context.Context) error {
	user, err := a.client.Me(ctx)
	if err != nil {
		return describe(err)
	}
	return a.printJSON(user)
}

func (a *app) refresh(ctx context.Context) error {
	resp, err := a.client.Refresh(ctx)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(a.out, "Token refreshed, expires in %ds.\n", resp.ExpiresIn)
	return nil
}

func (a *app) users(ctx context.Context) error {
	users, err := a.client.Users(ctx)
	if err != nil {
		return describe(err)
	}
	return a.printJSON(users)
}

func (a *app) status() error {
	user, ok := a.client.Store().User()
	if !ok {
		fmt.Fprintln(a.out, "Not logged in.")
		return nil
	}
	fmt.Fprintf(a.out, "Logged in as %s (%s).\n", user.Email, user.Name)
	return nil
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprintf(a.out, "%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}

func (a *app) password(label string) (string, error) {
	if a.tty == nil {
		return a.prompt(label)
	}

	fmt.Fprintf(a.out, "%s: ", label)
	pw, err := readPassword(int(a.tty.Fd()))
	fmt.Fprintln(a.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// unbufferedReader reads one byte at a time so nothing past the newline is
// consumed from the underlying reader.
type unbufferedReader struct {
	r io.Reader
}

func (u unbufferedReader) ReadString(delim byte) (string, error) {
	var b strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := u.r.Read(buf)
		if n > 0 {
			b.WriteByte(buf[0])
			if buf[0] == delim {
				return b.String(), nil
			}
		}
		if err != nil {
			return b.String(), err
		}
	}
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describe flattens field errors into a readable message.
func describe(err error) error {
	if errors.Is(err, apiclient.ErrUnauthenticated) {
		return errors.New("not logged in")
	}
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if len(apiErr.Errors) == 0 {
		return apiErr
	}
	var b strings.Builder
	b.WriteString(apiErr.Message)
	for field, msgs := range apiErr.Errors {
		fmt.Fprintf(&b, "\n  %s: %s", field, strings.Join(msgs, ", "))
	}
	return errors.New(b.String())
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func defaultCookiePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".gatekeeper-cookies.json"
	}
	return filepath.Join(dir, "gatekeeper", "cookies.json")
}
