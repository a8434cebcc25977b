package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kornnellio/godbg/controller"
	"github.com/kornnellio/godbg/logging"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "godbg",
	Short: "A native ptrace-based debugger control core",
	Long: `godbg attaches to a Linux process via ptrace and exposes its
thread, breakpoint, and execution-control primitives from the command line.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.SetDefault(logging.NewLogger(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Format: logFormat,
			Output: os.Stderr,
		}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(launchCmd)
}

// Execute runs the root command; main calls this directly.
func Execute() error {
	return rootCmd.Execute()
}

var replCmd = &cobra.Command{
	Use:   "repl <pid>",
	Short: "Attach to pid and open an interactive debugging session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePid(args[0])
		if err != nil {
			return err
		}
		s, err := newSession(pid)
		if err != nil {
			return err
		}
		return runRepl(s)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <pid> <command> [args...]",
	Short: "Attach to pid, run one command, then detach",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePid(args[0])
		if err != nil {
			return err
		}
		s, err := newSession(pid)
		if err != nil {
			return err
		}
		out, err := s.dispatch(strings.Join(args[1:], " "))
		if err != nil {
			_ = s.ctl.Detach(controller.DetachMigration)
			return err
		}
		if out != "" {
			fmt.Println(out)
		}
		return s.ctl.Detach(controller.DetachMigration)
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch <path> [args...]",
	Short: "Start path under PTRACE_TRACEME and open an interactive session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSessionLaunch(args[0], args[1:])
		if err != nil {
			return err
		}
		return runRepl(s)
	},
}

func parsePid(s string) (int32, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad pid %q: %w", s, err)
	}
	return int32(n), nil
}

// runRepl drives a line-oriented session from stdin. When stdin is an
// interactive tty it puts the terminal in raw mode (golang.org/x/term) and
// does its own line editing, matching how a debugger REPL needs to see
// Ctrl-C and backspace itself rather than letting the tty driver's canonical
// mode swallow them; piped input (a test harness, a script) falls back to
// plain line scanning.
func runRepl(s *session) error {
	fmt.Printf("attached to pid %d — type 'detach' or 'quit' to exit\n", s.pid)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return runReplScanner(s)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return runReplScanner(s)
	}
	defer term.Restore(fd, oldState)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("\r\n(godbg) ")
		line, stop, err := readRawLine(reader)
		if err != nil {
			return err
		}
		if stop {
			break
		}
		line = strings.TrimSpace(line)
		if line == "quit" || line == "exit" {
			break
		}
		out, derr := s.dispatch(line)
		if derr != nil {
			fmt.Fprintf(os.Stderr, "\r\nerror: %v", derr)
			continue
		}
		if out != "" {
			fmt.Print("\r\n" + out)
		}
		if line == "detach" || strings.HasPrefix(line, "detach ") {
			break
		}
	}
	fmt.Print("\r\n")
	return nil
}

// readRawLine reads one edited line from a raw-mode terminal, handling
// backspace (DEL/BS), Ctrl-C, Ctrl-D, and carriage return as Enter.
func readRawLine(r *bufio.Reader) (line string, stop bool, err error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", true, nil
		}
		switch b {
		case '\r', '\n':
			return string(buf), false, nil
		case 3: // Ctrl-C
			return "", true, nil
		case 4: // Ctrl-D
			if len(buf) == 0 {
				return "", true, nil
			}
		case 127, 8: // DEL, backspace
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				fmt.Print("\b \b")
			}
		default:
			buf = append(buf, b)
			fmt.Printf("%c", b)
		}
	}
}

func runReplScanner(s *session) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("(godbg) ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			break
		}
		out, err := s.dispatch(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if out != "" {
			fmt.Println(out)
		}
		if line == "detach" || strings.HasPrefix(line, "detach ") {
			break
		}
	}
	return scanner.Err()
}
