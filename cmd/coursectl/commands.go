package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sakif/course-session/internal/enrollment"
	"github.com/sakif/course-session/internal/entitlement"
	"github.com/sakif/course-session/internal/gate"
	"github.com/sakif/course-session/internal/identity"
	"github.com/sakif/course-session/internal/tabsync"
)

// parse parses args and checks the positional count.
func parse(fs *pflag.FlagSet, args []string, positional int) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < positional {
		return fmt.Errorf("%s: expected %d argument(s), got %d", fs.Name(), positional, fs.NArg())
	}
	return nil
}

// readPassword returns given, or prompts without echo when stdin is a
// terminal.
func readPassword(given string) (string, error) {
	if given != "" {
		return given, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdRegister(args []string) error {
	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (prompted when omitted)")
	remember := fs.Bool("remember", false, "keep the session in the shared durable store")
	if err := parse(fs, args, 0); err != nil {
		return err
	}
	secret, err := readPassword(*password)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.Identity.Register(ctx, identity.RegisterInput{
		Name: *name, Email: *email, Password: secret, RememberMe: *remember,
	})
	if err != nil {
		return err
	}
	fmt.Printf("registered %s <%s>\n", rec.FullName, rec.Email)
	return nil
}

func cmdLogin(args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (prompted when omitted)")
	remember := fs.Bool("remember", false, "keep the session in the shared durable store")
	if err := parse(fs, args, 0); err != nil {
		return err
	}
	secret, err := readPassword(*password)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.Identity.Login(ctx, identity.Credentials{
		Email: *email, Password: secret, RememberMe: *remember,
	})
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s <%s>\n", rec.FullName, rec.Email)
	if !*remember && tf.tab == "" {
		fmt.Fprintln(os.Stderr, "note: without --remember or --tab this session ends when the command exits")
	}
	return nil
}

func cmdLogout(args []string) error {
	fs := pflag.NewFlagSet("logout", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Identity.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

type whoami struct {
	UserID       string     `json:"userId"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	IsAdmin      bool       `json:"isAdmin"`
	Stored       string     `json:"stored"`
	Subscription string     `json:"subscription"`
	Expires      *time.Time `json:"expires,omitempty"`
	Enrolled     []string   `json:"enrolledCourses"`
}

func cmdWhoami(args []string) error {
	fs := pflag.NewFlagSet("whoami", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, _ := s.Current()
	if rec == nil {
		fmt.Println("signed out")
		return nil
	}
	loc, err := s.Session.Location(ctx)
	if err != nil {
		return err
	}
	ent := entitlement.Resolve(rec)
	out := whoami{
		UserID:       rec.ID,
		Name:         rec.FullName,
		Email:        rec.Email,
		Role:         string(rec.Role),
		IsAdmin:      rec.IsAdmin,
		Stored:       loc.String(),
		Subscription: ent.Kind.String(),
		Enrolled:     rec.EnrolledCourses,
	}
	if !ent.Expiry.IsZero() {
		out.Expires = &ent.Expiry
	}
	return printJSON(out)
}

func cmdProfile(args []string) error {
	fs := pflag.NewFlagSet("profile", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	name := fs.String("name", "", "new full name")
	email := fs.String("email", "", "new email address")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	// Only flags given on the command line are sent.
	var upd identity.ProfileUpdate
	if fs.Changed("name") {
		upd.FullName = name
	}
	if fs.Changed("email") {
		upd.Email = email
	}

	ctx := context.Background()
	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.Identity.UpdateProfile(ctx, upd)
	if err != nil {
		return err
	}
	fmt.Printf("profile: %s <%s>\n", rec.FullName, rec.Email)
	return nil
}

func cmdEnroll(args []string) error {
	fs := pflag.NewFlagSet("enroll", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	if err := parse(fs, args, 1); err != nil {
		return err
	}
	courseID := fs.Arg(0)

	ctx := context.Background()
	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, added, err := s.Enroll(ctx, courseID)
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("already enrolled in %s\n", courseID)
		return nil
	}
	at, _ := enrollment.EnrolledAt(rec, courseID)
	fmt.Printf("enrolled in %s at %s\n", courseID, at.Format(time.RFC3339))
	return nil
}

func cmdToggle(args []string) error {
	fs := pflag.NewFlagSet("toggle", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	if err := parse(fs, args, 2); err != nil {
		return err
	}
	courseID, lessonID := fs.Arg(0), fs.Arg(1)

	ctx := context.Background()
	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	done, err := s.Progress.Toggle(ctx, courseID, lessonID)
	if err != nil {
		return err
	}
	state := "incomplete"
	if done.Has(lessonID) {
		state = "complete"
	}
	fmt.Printf("%s/%s is now %s (%d done)\n", courseID, lessonID, state, done.Len())
	return nil
}

func cmdProgress(args []string) error {
	fs := pflag.NewFlagSet("progress", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	if err := parse(fs, args, 2); err != nil {
		return err
	}
	courseID := fs.Arg(0)
	total, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("total lessons %q is not a number", fs.Arg(1))
	}

	ctx := context.Background()
	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	done, err := s.Progress.CompletedLessons(ctx, courseID)
	if err != nil {
		return err
	}
	pct, err := s.Progress.CompletionPercentage(ctx, courseID, total)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d%% (%s)\n", courseID, pct, strings.Join(done.IDs(), ", "))
	return nil
}

// guardFor maps a guard name from the command line to a Guard.
func guardFor(name, courseID string) (gate.Guard, error) {
	switch name {
	case "private":
		return gate.Private(), nil
	case "instructor":
		return gate.Instructor(), nil
	case "admin":
		return gate.Admin(), nil
	case "subscriber":
		return gate.Subscriber(), nil
	case "course":
		if courseID == "" {
			return gate.Guard{}, errors.New("the course guard needs a course id")
		}
		return gate.CourseContent(courseID), nil
	default:
		return gate.Guard{}, fmt.Errorf("unknown guard %q", name)
	}
}

func cmdCheck(args []string) error {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	if err := parse(fs, args, 2); err != nil {
		return err
	}
	guard, err := guardFor(fs.Arg(0), fs.Arg(2))
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	return printJSON(s.Gate.Check(guard, fs.Arg(1)))
}

// cmdWatch prints every sync event this tab sees and the private-route
// decision after it, until interrupted.
func cmdWatch(args []string) error {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	tf := addTabFlags(fs)
	path := fs.String("path", "/dashboard", "private route to re-evaluate")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openTab(ctx, tf)
	if err != nil {
		return err
	}
	defer s.Close()

	report := func(prefix string) {
		d := s.Gate.Check(gate.Private(), *path)
		who := "nobody"
		if rec, _ := s.Current(); rec != nil {
			who = rec.Email
		}
		fmt.Printf("%s %s → %s (%s)\n", prefix, *path, d.State, who)
	}

	report("initial")
	unsubscribe := s.Observe(func(ev tabsync.Event) {
		prefix := string(ev.Kind)
		if ev.Key != "" {
			prefix += " " + ev.Key
		}
		report(ev.At.Format(time.TimeOnly) + " " + prefix)
	})
	defer unsubscribe()

	<-ctx.Done()
	return nil
}
