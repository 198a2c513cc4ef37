package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
	"github.com/yanlnery/glowing-docs-portal-sub000/provider/memory"
)

const demoUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"

type scenario struct {
	name  string
	about string
	run   func(ctx context.Context, s *stack, out io.Writer, email string) error
}

var scenarios = []scenario{
	{name: "session", about: "sign up, load profile, update it, sign out", run: runSessionScenario},
	{name: "throttle", about: "repeated bad passwords until the limiter refuses", run: runThrottleScenario},
	{name: "recovery", about: "reset request, wrong codes, valid code, new password", run: runRecoveryScenario},
}

func newSimulateCommand() *cobra.Command {
	var (
		name  string
		email string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run scripted customer journeys against the in-memory provider",
		Long:  "Scenarios: " + scenarioList() + ", or all.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			out := cmd.OutOrStdout()

			selected, err := selectScenarios(name)
			if err != nil {
				return err
			}

			for _, sc := range selected {
				fmt.Fprintf(out, "== %s: %s\n", sc.name, sc.about)
				if err := runScenario(ctx, sc, out, email, watch); err != nil {
					return fmt.Errorf("%s: %w", sc.name, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "scenario", "all", "Scenario to run ("+scenarioList()+", all)")
	cmd.Flags().StringVar(&email, "email", "ana@example.com", "Customer email used by the scenario")
	cmd.Flags().BoolVar(&watch, "watch", true, "Print every published state change")
	return cmd
}

func scenarioList() string {
	names := make([]string, len(scenarios))
	for i, sc := range scenarios {
		names[i] = sc.name
	}
	return strings.Join(names, ", ")
}

func selectScenarios(name string) ([]scenario, error) {
	if name == "all" {
		return scenarios, nil
	}
	for _, sc := range scenarios {
		if sc.name == name {
			return []scenario{sc}, nil
		}
	}
	return nil, fmt.Errorf("unknown scenario %q", name)
}

// lockedWriter serializes writes from the caller and the watcher goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runScenario(ctx context.Context, sc scenario, w io.Writer, email string, watch bool) error {
	out := &lockedWriter{w: w}
	s, err := buildStack(ctx, stackOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	if watch {
		cancel := s.controller.Watch(func(snap storeauth.Snapshot) {
			fmt.Fprintf(out, "   state: %s\n", describe(snap))
		})
		defer cancel()
	}

	ctx = storeauth.WithClientIP(ctx, "203.0.113.7")
	ctx = storeauth.WithUserAgent(ctx, demoUserAgent)
	ctx = storeauth.WithAcceptLanguage(ctx, "pt-BR,pt;q=0.9")

	if err := sc.run(ctx, s, out, email); err != nil {
		return err
	}
	if err := s.controller.Flush(ctx); err != nil {
		return err
	}

	fmt.Fprintln(out, "   security log:")
	for _, ev := range s.controller.RecentSecurityEvents(20) {
		fmt.Fprintf(out, "     %s %-24s %s %v\n", ev.Timestamp.Format(time.TimeOnly), ev.Type, ev.Identity, ev.Metadata)
	}
	return nil
}

func describe(s storeauth.Snapshot) string {
	var b strings.Builder
	b.WriteString(s.Phase.String())
	if s.IsLoading {
		b.WriteString(" loading")
	}
	if s.User != nil {
		b.WriteString(" user=")
		b.WriteString(s.User.Email)
	}
	if s.Profile != nil && s.Profile.FirstName != "" {
		b.WriteString(" name=")
		b.WriteString(s.Profile.FirstName)
	}
	if s.AuthError != nil {
		b.WriteString(" error=")
		b.WriteString(s.AuthError.Message)
	}
	return b.String()
}

func step(out io.Writer, format string, args ...any) {
	fmt.Fprintf(out, " > "+format+"\n", args...)
}

func runSessionScenario(ctx context.Context, s *stack, out io.Writer, email string) error {
	c := s.controller

	step(out, "sign up %s", email)
	if _, err := c.SignUp(ctx, storeauth.SignUpRequest{
		Email:     email,
		Password:  "jiboia-arco-iris",
		FirstName: "Ana",
		LastName:  "Souza",
		Phone:     "+55 11 90000-0000",
	}); err != nil {
		return err
	}
	if err := c.Flush(ctx); err != nil {
		return err
	}

	phone := "+55 11 91111-1111"
	step(out, "update phone")
	if _, err := c.UpdateProfile(ctx, storeauth.ProfileUpdate{Phone: &phone}); err != nil {
		return err
	}

	step(out, "sign out")
	if err := c.Logout(ctx); err != nil {
		return err
	}

	step(out, "sign in again")
	if _, err := c.Login(ctx, email, "jiboia-arco-iris"); err != nil {
		return err
	}
	return nil
}

func runThrottleScenario(ctx context.Context, s *stack, out io.Writer, email string) error {
	c := s.controller

	step(out, "register %s", email)
	if _, err := c.SignUp(ctx, storeauth.SignUpRequest{Email: email, Password: "python-regius"}); err != nil {
		return err
	}
	if err := c.Logout(ctx); err != nil {
		return err
	}

	max := c.Limiter().Config().MaxLoginAttempts
	for i := 1; i <= max+2; i++ {
		_, err := c.Login(ctx, email, fmt.Sprintf("guess-%d", i))
		var ae *storeauth.AuthError
		switch {
		case errors.As(err, &ae) && ae.Kind == storeauth.KindRateLimited:
			step(out, "attempt %d refused locally: %s", i, ae.Message)
		case err != nil:
			step(out, "attempt %d rejected by provider: %v", i, err)
		default:
			step(out, "attempt %d unexpectedly succeeded", i)
		}
	}

	step(out, "correct password while throttled")
	if _, err := c.Login(ctx, email, "python-regius"); err != nil {
		step(out, "still refused: %v", err)
	}
	return nil
}

func runRecoveryScenario(ctx context.Context, s *stack, out io.Writer, email string) error {
	c := s.controller

	step(out, "register %s", email)
	if _, err := c.SignUp(ctx, storeauth.SignUpRequest{Email: email, Password: "boa-constrictor"}); err != nil {
		return err
	}
	if err := c.Logout(ctx); err != nil {
		return err
	}

	step(out, "request password reset")
	if err := c.RequestPasswordReset(ctx, email); err != nil {
		return err
	}
	step(out, "request again immediately")
	if err := c.RequestPasswordReset(ctx, email); err != nil {
		step(out, "refused: %v", err)
	}

	msg, ok := s.outbox.Last(email, memory.MessageRecovery)
	if !ok {
		return errors.New("no recovery email was sent")
	}
	step(out, "mail to %s with link %s", msg.To, msg.Link)

	for _, wrong := range []string{"000000", "111111"} {
		_, err := c.VerifyRecoveryCode(ctx, email, wrong)
		var ae *storeauth.AuthError
		if errors.As(err, &ae) {
			step(out, "code %s rejected, %d attempts left", wrong, ae.AttemptsLeft)
		}
	}

	step(out, "enter the emailed code")
	if _, err := c.VerifyRecoveryCode(ctx, email, msg.Code); err != nil {
		return err
	}

	step(out, "choose a new password")
	if err := c.UpdatePassword(ctx, "corn-snake-2026"); err != nil {
		return err
	}
	if err := c.Logout(ctx); err != nil {
		return err
	}

	step(out, "sign in with the new password")
	if _, err := c.Login(ctx, email, "corn-snake-2026"); err != nil {
		return err
	}
	return nil
}
