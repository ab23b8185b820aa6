package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"pdfrag/internal/config"
	"pdfrag/internal/service"
	"pdfrag/internal/tui"
)

const usage = `Usage: pdfrag [--config=config.yaml] [--memory] <command> [args]

Commands:
  ingest <files...>      extract, chunk, embed and store PDF or text files (globs allowed)
  ask <question>         answer one question from the stored chunks
  chat [files...]        optionally ingest files, then open the question console
  clear                  remove every stored chunk
  status                 show chunk count and configured backends
  debug-search <query>   print raw similarity scores for a query
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var ephemeral bool
	var topK int
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/pdfrag/config.yaml if not provided)")
	flag.BoolVar(&ephemeral, "memory", false, "Keep chunks in memory for this run only")
	flag.IntVar(&topK, "k", 10, "Results printed by debug-search")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	withCompleter := cmd == "ask" || cmd == "chat"
	a, err := build(ctx, cfg, ephemeral, withCompleter, logger)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.Close()

	if err := run(ctx, a.svc, cmd, rest, topK); err != nil {
		a.Close()
		log.Fatalf("%s: %v", cmd, err)
	}
}

func run(ctx context.Context, svc *service.RAGService, cmd string, args []string, topK int) error {
	switch cmd {
	case "ingest":
		if len(args) == 0 {
			return fmt.Errorf("no files given")
		}
		report, err := ingestFiles(ctx, svc, args)
		if err != nil {
			return err
		}
		if report.Summary != "" {
			fmt.Printf("\nSummary:\n%s\n", report.Summary)
		}
		return nil
	case "ask":
		if len(args) == 0 {
			return fmt.Errorf("no question given")
		}
		fmt.Println(svc.Answer(ctx, strings.Join(args, " ")))
		return nil
	case "chat":
		var summary string
		if len(args) > 0 {
			report, err := ingestFiles(ctx, svc, args)
			if err != nil {
				return err
			}
			summary = report.Summary
		}
		p := tea.NewProgram(tui.New(ctx, svc, summary), tea.WithAltScreen())
		_, err := p.Run()
		return err
	case "clear":
		if err := svc.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("All chunks cleared")
		return nil
	case "status":
		st, err := svc.Status(ctx)
		fmt.Printf("store:     %s\n", st.Store)
		fmt.Printf("embedder:  %s (%d dims)\n", st.Embedder, st.Dimension)
		if err != nil {
			fmt.Println("status:    unhealthy")
			return err
		}
		fmt.Printf("chunks:    %d\n", st.Chunks)
		fmt.Println("status:    healthy")
		return nil
	case "debug-search":
		if len(args) == 0 {
			return fmt.Errorf("no query given")
		}
		res, err := svc.DebugSearch(ctx, strings.Join(args, " "), topK)
		if err != nil {
			return err
		}
		if len(res) == 0 {
			fmt.Println("no chunks stored")
			return nil
		}
		for i, r := range res {
			fmt.Printf("%2d. id=%d similarity=%.4f %s\n", i+1, r.Chunk.ID, r.Score, preview(r.Chunk.Content, 80))
		}
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func ingestFiles(ctx context.Context, svc *service.RAGService, patterns []string) (service.IngestReport, error) {
	report, err := svc.Ingest(ctx, patterns, newProgress(progressEnabled()))
	if err != nil {
		return report, err
	}
	for _, d := range report.Documents {
		fmt.Println(d.String())
		for _, e := range d.Errors {
			fmt.Printf("  %s\n", e)
		}
	}
	for _, f := range report.Failures {
		fmt.Printf("failed: %s\n", f)
	}
	fmt.Printf("Processed %d file(s): %d/%d chunks stored\n", len(report.Documents), report.Successful(), report.Total())
	return report, nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
