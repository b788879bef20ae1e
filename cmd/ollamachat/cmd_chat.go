package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/ollamachat/internal/chat"
	"github.com/comigor/ollamachat/internal/config"
	"github.com/comigor/ollamachat/internal/export"
	"github.com/comigor/ollamachat/internal/logger"
	"github.com/comigor/ollamachat/internal/metrics"
	"github.com/comigor/ollamachat/internal/session"
)

const chatHelp = `commands:
  /new              start a new conversation
  /clear            clear the screen history (stored turns are kept)
  /history          show messages with their index
  /delete N         delete message N and its pair
  /forget           delete the whole conversation
  /model [NAME]     show or switch the model
  /models           list models (retries a failed fetch)
  /image PATH       attach an image to the next message
  /file PATH        attach a text file to the next message
  /export PATH      write a Markdown transcript
  /quit             leave`

// streamPrinter writes each event's new suffix, so the live buffer appears
// token by token.
type streamPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed int
}

func (p *streamPrinter) handle(ev session.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed > len(ev.Text) {
		p.printed = 0
	}
	fmt.Fprint(p.out, ev.Text[p.printed:])
	p.printed = len(ev.Text)

	switch ev.Kind {
	case session.EventDelta:
		return
	case session.EventError:
		if ev.Text != "" {
			fmt.Fprintln(p.out)
		}
		fmt.Fprintf(p.out, "error: %v\n", ev.Err)
	default:
		if ev.Text != "" {
			fmt.Fprintln(p.out)
		}
	}
	p.printed = 0
}

func runChat(cmd *cobra.Command, args []string) error {
	var current atomic.Pointer[session.Coordinator]
	cfg, err := loadConfig(func(next *config.Config) {
		if c := current.Load(); c != nil {
			c.UpdateSettings(session.SettingsFromConfig(next))
		}
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	coord := a.coordinator(conversation)
	current.Store(coord)
	out := cmd.OutOrStdout()
	coord.Subscribe((&streamPrinter{out: out}).handle)

	if conversation != "" {
		if _, err := coord.LoadHistory(ctx, conversation); err != nil {
			return err
		}
		fmt.Fprintf(out, "resumed %s (%d messages)\n", conversation, len(coord.Messages()))
	}

	model := pickModel(ctx, coord, out, conversation != "")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr) })
	}
	g.Go(func() error {
		defer cancel()
		return repl(gctx, coord, cmd.InOrStdin(), out, model)
	})
	return g.Wait()
}

func pickModel(ctx context.Context, coord *session.Coordinator, out io.Writer, resume bool) string {
	preferred := modelFlag
	if preferred == "" {
		preferred = coord.Settings().Model
	}
	model, _, err := session.ChooseModel(ctx, coord, preferred, resume && modelFlag == "")
	if err != nil {
		fmt.Fprintf(out, "could not load models: %v (use /models to retry)\n", err)
		return preferred
	}
	fmt.Fprintf(out, "model: %s\n", model)
	return model
}

func repl(ctx context.Context, coord *session.Coordinator, in io.Reader, out io.Writer, model string) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-interrupts:
				if coord.IsGenerating() {
					coord.Cancel()
					continue
				}
				fmt.Fprintln(out)
				os.Exit(130)
			}
		}
	}()

	var (
		image       []byte
		attachments []chat.Attachment
	)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	fmt.Fprintln(out, "type /help for commands")

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" && image == nil && attachments == nil {
			continue
		}

		if strings.HasPrefix(line, "/") {
			name, arg, _ := strings.Cut(line, " ")
			arg = strings.TrimSpace(arg)
			switch name {
			case "/quit", "/exit":
				return nil
			case "/help":
				fmt.Fprintln(out, chatHelp)
			case "/new":
				fmt.Fprintf(out, "new conversation %s\n", coord.NewConversation())
			case "/clear":
				coord.ClearMessages()
			case "/history":
				printHistory(out, coord.Messages())
			case "/delete":
				n, err := strconv.Atoi(arg)
				if err != nil {
					fmt.Fprintln(out, "usage: /delete N")
					continue
				}
				if err := coord.DeleteMessage(ctx, n); err != nil {
					fmt.Fprintf(out, "delete failed: %v\n", err)
				}
			case "/forget":
				if err := coord.DeleteConversation(ctx); err != nil {
					fmt.Fprintf(out, "delete failed: %v\n", err)
				}
			case "/model":
				if arg != "" {
					model = arg
				}
				fmt.Fprintf(out, "model: %s\n", model)
			case "/models":
				models, err := coord.ListModels(ctx)
				if err != nil {
					fmt.Fprintf(out, "could not load models: %v\n", err)
					continue
				}
				if len(models) == 0 {
					fmt.Fprintln(out, "no models installed on the server")
				}
				for _, m := range models {
					fmt.Fprintln(out, " ", m)
				}
			case "/image":
				data, err := os.ReadFile(arg)
				if err != nil {
					fmt.Fprintf(out, "image: %v\n", err)
					continue
				}
				image = data
				fmt.Fprintf(out, "attached %s\n", filepath.Base(arg))
			case "/file":
				data, err := os.ReadFile(arg)
				if err != nil {
					fmt.Fprintf(out, "file: %v\n", err)
					continue
				}
				attachments = append(attachments, chat.Attachment{Kind: chat.AttachmentText, Text: string(data)})
				fmt.Fprintf(out, "attached %s\n", filepath.Base(arg))
			case "/export":
				md := export.Markdown(coord.Messages(), export.Meta{Model: model, BaseURL: coord.Settings().BaseURL, GeneratedAt: time.Now()})
				if err := os.WriteFile(arg, []byte(md), 0o644); err != nil {
					fmt.Fprintf(out, "export: %v\n", err)
				}
			default:
				fmt.Fprintf(out, "unknown command %s\n", name)
			}
			continue
		}

		content := chat.ComposeContent(line, attachments...)
		_, err := coord.Send(ctx, content, image, model)
		image, attachments = nil, nil
		if err != nil && !errors.Is(err, session.ErrCancelled) {
			logger.L.Debug("send failed", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printHistory(out io.Writer, msgs []chat.Message) {
	for i, m := range msgs {
		text := m.Content
		if r := []rune(text); len(r) > 60 {
			text = string(r[:60]) + "..."
		}
		text = strings.ReplaceAll(text, "\n", " ")
		if len(m.Image) > 0 {
			text += " (image)"
		}
		fmt.Fprintf(out, "%3d %-9s %s\n", i, m.Role, text)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	coord := a.coordinator(conversation)
	if conversation != "" {
		if _, err := coord.LoadHistory(ctx, conversation); err != nil {
			return err
		}
	}
	coord.Subscribe((&streamPrinter{out: cmd.OutOrStdout()}).handle)

	var image []byte
	if imagePath != "" {
		if image, err = os.ReadFile(imagePath); err != nil {
			return err
		}
	}

	_, err = coord.Send(ctx, args[0], image, modelFlag)
	if errors.Is(err, session.ErrCancelled) {
		return nil
	}
	if err == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", coord.ConversationID())
	}
	return err
}
