package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"agri-assist-go/internal/engine"
	"agri-assist-go/pkg/api"
	"agri-assist-go/pkg/log"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("34")).
	Padding(0, 1)

type rootOptions struct {
	proxyURL    string
	language    string
	sendTimeout time.Duration
	cacheSize   int
	historyFile string
	logLevel    string
}

// NewRootCommand 创建终端客户端的根命令。
func NewRootCommand() *cobra.Command {
	opts := rootOptions{}
	cmd := &cobra.Command{
		Use:   "agrichat",
		Short: "Terminal client for the agriculture assistant",
		Long: `Chat with the agriculture assistant from your terminal.

Type a question to send it. Commands start with a slash, type /help to list them.
Images and voice recordings can be attached with /image and /voice.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.proxyURL, "proxy", "http://localhost:3000", "Proxy server base URL")
	flags.StringVar(&opts.language, "lang", engine.LanguageEnglish, "Answer language (en or ur)")
	flags.DurationVar(&opts.sendTimeout, "send-timeout", 180*time.Second, "Timeout for a single message")
	flags.IntVar(&opts.cacheSize, "cache-size", engine.DefaultCacheSize, "Number of conversations kept in memory")
	flags.StringVar(&opts.historyFile, "history-file", defaultHistoryFile(), "File used to persist input history")
	flags.StringVar(&opts.logLevel, "log-level", "error", "Log level (debug, info, warn, error)")
	return cmd
}

// Execute 运行根命令。
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultHistoryFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "agrichat", "history")
}

func run(parent context.Context, opts rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	if opts.language != engine.LanguageEnglish && opts.language != engine.LanguageUrdu {
		return fmt.Errorf("unsupported language %q", opts.language)
	}
	log.Init(opts.logLevel, "console", "")
	defer log.Sync()

	client, err := api.NewClient(opts.proxyURL)
	if err != nil {
		return err
	}
	eng := engine.New(client, engine.Options{
		SendTimeout: opts.sendTimeout,
		CacheSize:   opts.cacheSize,
		Language:    opts.language,
	})
	defer eng.Wait()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM)
	defer stop()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	loadHistory(line, opts.historyFile)
	defer saveHistory(line, opts.historyFile)

	fmt.Println(bannerStyle.Render("Agri Assistant"))
	if err := eng.Bootstrap(ctx); err != nil {
		if !api.IsAuthentication(err) {
			fmt.Println(RenderError(describe(err)))
		}
		fmt.Println(infoStyle.Render("Not signed in. Use /login <email> or /signup <email>."))
	} else {
		st := eng.Snapshot()
		fmt.Println(infoStyle.Render("Signed in as " + st.Email()))
		fmt.Println(RenderSidebar(st))
	}

	return NewSession(eng, line, os.Stdout).Run(ctx)
}

func loadHistory(line *liner.State, path string) {
	if f, err := os.Open(path); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
}

func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
