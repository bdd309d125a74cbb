package cmd

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"photosweep/internal/server"
)

var (
	servePort      int
	serveTimeout   time.Duration
	serveNoBrowser bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web UI for reviewing and cleaning duplicates",
	Long: `Start a local web server that provides a visual interface for
reviewing duplicate photos and cleaning them.

The server will:
- Display duplicate groups with photo previews
- Run scans from the browser and stream their progress
- Execute clean operations from the browser
- Auto-shutdown after idle timeout (when tab is inactive)

Example:
  photosweep serve              # Listen on server.addr (127.0.0.1:8080)
  photosweep serve -p 3000      # Use custom port
  photosweep serve --timeout 10m  # 10 minute idle timeout`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides server.addr)")
	serveCmd.Flags().DurationVar(&serveTimeout, "timeout", 5*time.Minute, "Idle timeout (0 to disable)")
	serveCmd.Flags().BoolVar(&serveNoBrowser, "no-browser", false, "Don't open browser automatically")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	lib, err := openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	addr := cfg.Server.Addr
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	if servePort > 0 {
		port = strconv.Itoa(servePort)
		addr = net.JoinHostPort(host, port)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resolve photo paths so previews work before the first scan
	if _, err := lib.syncer.Sync(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial sync failed")
	}

	srv := server.New(lib.cache, lib.src, lib.syncer, lib.orch, cfg.ScanOptions,
		server.WithAddr(addr),
		server.WithIdleTimeout(serveTimeout),
		server.WithLogger(logger),
	)

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	url := "http://" + net.JoinHostPort(host, port)
	fmt.Printf("Starting server at %s\n", url)
	fmt.Printf("Idle timeout: %v (resets on activity, pauses when tab is active)\n", serveTimeout)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	// Open browser
	if !serveNoBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(url)
		}()
	}

	return srv.Start(ctx)
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Run(); err != nil {
		logger.Debug().Err(err).Msg("failed to open browser")
	}
}
