// finbot-cli — терминальный FinBot: тот же стор, монитор и ingest, что и у
// сервера, только в одном процессе.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Vovarama1992/finbot-ai-bridge/internal/ai"
	"github.com/Vovarama1992/finbot-ai-bridge/internal/availability"
	"github.com/Vovarama1992/finbot-ai-bridge/internal/chat"
	"github.com/Vovarama1992/finbot-ai-bridge/internal/config"
)

var (
	botColor    = color.New(color.FgBlue, color.Bold)
	userColor   = color.New(color.FgWhite, color.Bold)
	sourceColor = color.New(color.FgHiBlack)
	errColor    = color.New(color.FgRed)
	okColor     = color.New(color.FgGreen)
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// логи сервиса не мешают диалогу
	if os.Getenv("FINBOT_DEBUG") == "" {
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slot, err := chat.OpenSlot(ctx, cfg.Store.Backend, cfg.Store.Path, cfg.Store.DatabaseURL, cfg.Store.Key)
	if err != nil {
		errColor.Fprintf(os.Stderr, "store open error: %v\n", err)
		os.Exit(1)
	}
	defer slot.Close()

	store := chat.NewStore(slot)
	if err := store.Load(ctx, chat.DefaultConversation); err != nil {
		errColor.Fprintf(os.Stderr, "store load error: %v\n", err)
		os.Exit(1)
	}

	provider := ai.FromConfig(cfg.AI)
	var (
		capability ai.Capability
		loader     availability.Loader
		label      = "FinBot AI"
	)
	if provider != nil {
		capability, loader, label = provider, provider, provider.Name()
	}

	monitor := availability.NewMonitor(loader, cfg.AI.SettleDelay)
	monitor.Start(ctx)

	engine := chat.NewEngine(store, capability, monitor, ai.OptionsFromConfig(cfg.AI))
	svc := chat.NewService(store, engine, monitor, label)
	defer svc.Close()

	r := newRenderer(os.Stdout)
	r.render(svc.Snapshot())

	updates, _ := svc.Subscribe(ctx)
	go func() {
		for snap := range updates {
			r.render(snap)
		}
	}()

	printHelp()
	go func() {
		state := monitor.Wait(ctx)
		if state == availability.Available {
			okColor.Println("● AI Ready")
		} else {
			sourceColor.Println("● Offline Mode")
		}
	}()

	in := bufio.NewScanner(os.Stdin)
	for {
		if input := svc.Input(); input != "" {
			fmt.Printf("> %s", input)
		} else {
			fmt.Print("> ")
		}
		if !in.Scan() {
			return
		}
		line := in.Text()

		switch {
		case line == "/quit" || line == "/exit":
			return
		case line == "/help":
			printHelp()
			continue
		case line == "/clear":
			if confirm(in, "Clear the whole conversation?") {
				if err := svc.Clear(ctx); err != nil {
					errColor.Printf("clear failed: %v\n", err)
				}
				r.reset()
				r.render(svc.Snapshot())
			}
			continue
		case strings.HasPrefix(line, "/") && len(line) == 2:
			n, err := strconv.Atoi(line[1:])
			if err != nil {
				break
			}
			if _, err := svc.QuickFill(n); err != nil {
				errColor.Println(err)
			}
			continue
		}

		// пустая строка при заполненном буфере — отправить буфер
		if strings.TrimSpace(line) == "" {
			line = svc.Input()
		} else if buf := svc.Input(); buf != "" {
			line = buf + line
		}

		turn, err := svc.Submit(ctx, line)
		if err != nil {
			errColor.Printf("send failed: %v\n", err)
			continue
		}
		if turn == nil {
			continue
		}
		r.waitFor(svc.Snapshot(), time.Second)
		fmt.Println()
	}
}

func printHelp() {
	sourceColor.Println("Enter sends · /1 /2 /3 quick questions · /clear · /quit")
	for i, q := range chat.QuickQuestions {
		sourceColor.Printf("  /%d  %s\n", i+1, q)
	}
}

func confirm(in *bufio.Scanner, prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	if !in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(in.Text()))
	return answer == "y" || answer == "yes"
}

// ------------------------------------------------------------
// renderer
// ------------------------------------------------------------

// renderer печатает только прирост текста. Если контент заменён целиком
// (fallback после оборванного стрима), сообщение печатается заново.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]string
	last    string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: make(map[string]string)}
}

func (r *renderer) reset() {
	r.mu.Lock()
	r.printed = make(map[string]string)
	r.last = ""
	r.mu.Unlock()
}

func (r *renderer) render(snap []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range snap {
		prev, seen := r.printed[m.ID]
		if !seen {
			r.header(m)
			r.printed[m.ID] = ""
			prev = ""
			if m.Sender == chat.SenderUser {
				fmt.Fprintln(r.out, m.Content)
				r.printed[m.ID] = m.Content
				continue
			}
		}
		if m.Sender != chat.SenderBot || m.Content == prev {
			continue
		}

		switch {
		case strings.HasPrefix(m.Content, prev):
			fmt.Fprint(r.out, m.Content[len(prev):])
		case strings.HasPrefix(prev, m.Content):
			// старый снимок, уже напечатано больше
			continue
		default:
			fmt.Fprintln(r.out)
			r.header(m)
			fmt.Fprint(r.out, m.Content)
		}
		r.printed[m.ID] = m.Content
	}
}

func (r *renderer) header(m chat.Message) {
	if r.last != "" {
		fmt.Fprintln(r.out)
	}
	r.last = m.ID

	ts := m.Timestamp.Local().Format("03:04 PM")
	if m.Sender == chat.SenderUser {
		userColor.Fprintf(r.out, "You %s\n", sourceColor.Sprint(ts))
		return
	}
	botColor.Fprintf(r.out, "FinBot %s", sourceColor.Sprint(ts))
	if len(m.Sources) > 0 {
		sourceColor.Fprintf(r.out, " [%s]", strings.Join(m.Sources, ", "))
	}
	fmt.Fprintln(r.out)
}

// waitFor даёт подписчику дорисовать ход; если не успел — дорисовываем сами.
func (r *renderer) waitFor(snap []chat.Message, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.caughtUp(snap) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.render(snap)
}

func (r *renderer) caughtUp(snap []chat.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range snap {
		if r.printed[m.ID] != m.Content {
			return false
		}
	}
	return true
}
