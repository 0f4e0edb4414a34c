package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatsync/internal/apiclient"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/identity"
	"github.com/npezzotti/go-chatsync/internal/realtime"
	"github.com/npezzotti/go-chatsync/internal/transport"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const chatHelp = `commands:
  /rooms                 list rooms
  /join <name|id>        switch room
  /create <name>         create a public channel
  /dm <user-id> <name>   open a private room
  /who                   list who is online
  /typing                tell the room you are typing
  /quit                  sign out and exit
anything else is sent to the active room`

type ChatOptions struct {
	*RootOptions
	ApiURL     string
	Email      string
	Password   string
	TypingIdle time.Duration
}

func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the hub from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runChat(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.ApiURL, "api-url", config.Env("GOCHAT_API_URL", "http://localhost:8000"), "hub base url")
	cmd.Flags().StringVar(&opts.Email, "email", config.Env("GOCHAT_EMAIL", ""), "account email")
	cmd.Flags().StringVar(&opts.Password, "password", config.Env("GOCHAT_PASSWORD", ""), "account password")
	cmd.Flags().DurationVar(&opts.TypingIdle, "typing-idle", realtime.DefaultTypingIdle, "quiet period before the typing indicator clears")

	return cmd
}

func runChat(ctx context.Context, opts *ChatOptions, in io.Reader, out io.Writer) error {
	logger, err := opts.logger()
	if err != nil {
		return err
	}

	cfg, err := config.NewClientConfig(opts.ApiURL, opts.Email, opts.Password, opts.TypingIdle)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	client := apiclient.New(cfg.ApiURL, logger, nil)
	user, token, err := client.Login(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return err
	}

	ident := identity.NewSession(user, token)
	sess := realtime.NewSession(realtime.SessionConfig{
		Identity:   ident,
		Store:      client,
		Transport:  transport.New(cfg.WsURL, ident.Token, logger),
		Logger:     logger,
		TypingIdle: cfg.TypingIdle,
	})

	view := newChatView(out, user)
	view.printf("signed in as %s, /help for commands", user.DisplayName)

	if err := sess.Start(ctx); err != nil {
		view.printf("start: %v", err)
	}

	renderDone := make(chan struct{})
	renderCtx, stopRender := context.WithCancel(ctx)
	go func() {
		defer close(renderDone)
		view.run(renderCtx, sess)
	}()

	repl := &chatRepl{sess: sess, view: view, log: logger}
	repl.loop(ctx, in)

	repl.flush()
	stopRender()
	<-renderDone
	view.render(sess)

	logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := sess.Logout(logoutCtx); err != nil {
		logger.Warn().Err(err).Msg("sign out")
	}
	if err := client.Logout(logoutCtx); err != nil && !errors.Is(err, apiclient.ErrUnauthorized) {
		logger.Warn().Err(err).Msg("logout")
	}

	return nil
}

type chatRepl struct {
	sess    *realtime.Session
	view    *chatView
	log     zerolog.Logger
	pending sync.WaitGroup
}

func (r *chatRepl) loop(ctx context.Context, in io.Reader) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := r.handle(ctx, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

// handle runs one input line. It reports whether the user asked to quit.
func (r *chatRepl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.view.printf("%s", chatHelp)
	case "/rooms":
		r.view.rooms(r.sess.Rooms(), r.sess.ActiveRoom())
	case "/join":
		room, ok := findRoom(r.sess.Rooms(), arg)
		if !ok {
			r.view.printf("no room %q", arg)
			return false
		}
		r.report(r.sess.SwitchRoom(ctx, room))
	case "/create":
		_, err := r.sess.CreateChannel(ctx, arg)
		r.report(err)
	case "/dm":
		otherId, otherName, _ := strings.Cut(arg, " ")
		_, err := r.sess.OpenPrivateRoom(ctx, otherId, strings.TrimSpace(otherName))
		r.report(err)
	case "/who":
		r.view.online(r.sess.Online())
	case "/typing":
		r.sess.Keystroke(ctx)
	default:
		r.view.printf("unknown command %s, /help for commands", cmd)
	}

	return false
}

func (r *chatRepl) send(ctx context.Context, content string) {
	receipt, err := r.sess.Send(ctx, content)
	if err != nil {
		r.report(err)
		return
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		<-receipt.Done()
		if err := receipt.Err(); err != nil {
			r.view.printf("not sent: %q: %v", receipt.Message.Content, err)
		}
	}()
}

// flush waits for outstanding sends to settle.
func (r *chatRepl) flush() {
	r.pending.Wait()
}

func (r *chatRepl) report(err error) {
	if err == nil || errors.Is(err, realtime.ErrRoomChanged) {
		return
	}

	r.log.Debug().Err(err).Msg("command failed")
	r.view.printf("error: %v", err)
}

// findRoom matches query against room ids first, then labels.
func findRoom(rooms []types.Room, query string) (types.Room, bool) {
	for _, r := range rooms {
		if r.Id == query {
			return r, true
		}
	}
	for _, r := range rooms {
		if strings.EqualFold(r.Name, query) {
			return r, true
		}
	}

	return types.Room{}, false
}
