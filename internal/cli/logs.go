package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View kapimage logs",
	Long: `Display the service log file, including uploads, preview generation
and watch-list activity.`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().Int("tail", 20, "Number of lines to display")
	logsCmd.Flags().Bool("follow", false, "Follow log output (like tail -f)")
	logsCmd.Flags().String("level", "", "Filter by log level (debug, info, warn, error)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	tail, _ := cmd.Flags().GetInt("tail")
	follow, _ := cmd.Flags().GetBool("follow")
	level, _ := cmd.Flags().GetString("level")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Logging.OutputPath

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("no log file at %s: %w", path, err)
	}
	defer f.Close()

	filter := levelFilter(level)
	lines, err := lastLines(f, tail, filter)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for _, line := range lines {
		fmt.Println(line)
	}

	if !follow {
		return nil
	}
	return followFile(f, path, filter)
}

// levelFilter matches both console ("\tINFO\t") and JSON ("level":"info") encodings
func levelFilter(level string) func(string) bool {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return func(string) bool { return true }
	}
	console := "\t" + strings.ToUpper(level) + "\t"
	jsonField := `"level":"` + level + `"`
	return func(line string) bool {
		return strings.Contains(line, console) || strings.Contains(line, jsonField)
	}
}

// lastLines returns the last n matching lines of r, leaving r at its end
func lastLines(r io.Reader, n int, keep func(string) bool) ([]string, error) {
	if n <= 0 {
		n = 20
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !keep(line) {
			continue
		}
		if len(ring) == n {
			ring = append(ring[1:], line)
		} else {
			ring = append(ring, line)
		}
	}
	return ring, scanner.Err()
}

// followFile prints lines appended to f until interrupted
func followFile(f *os.File, path string, keep func(string) bool) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot follow log file: %w", err)
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		return fmt.Errorf("cannot follow log file: %w", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	reader := bufio.NewReader(f)
	var partial string
	for {
		select {
		case <-interrupt:
			return nil
		case err := <-w.Errors:
			return err
		case event := <-w.Events:
			if !event.Op.Has(fsnotify.Write) {
				continue
			}
			for {
				chunk, err := reader.ReadString('\n')
				partial += chunk
				if err != nil {
					break
				}
				line := strings.TrimRight(partial, "\n")
				partial = ""
				if keep(line) {
					fmt.Println(line)
				}
			}
		}
	}
}
