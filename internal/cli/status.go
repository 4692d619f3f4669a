package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watch list of a running kapimage service",
	Long: `Display whether file watching is available and which source files
currently have their previews kept up to date.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output status in JSON format")
	statusCmd.Flags().String("server", "", "service base URL (default http://<server.listen>)")
}

type watchlistStatus struct {
	Paths          []string     `json:"paths"`
	WatchAvailable bool         `json:"watch_available"`
	Stats          serviceStats `json:"stats"`
}

type serviceStats struct {
	Events      map[string]interface{} `json:"events"`
	DigestCache map[string]interface{} `json:"digest_cache"`
}

func getJSON(url string, v interface{}) error {
	resp, err := httpClient().Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	base, err := serverURL(cmd)
	if err != nil {
		return err
	}

	var status watchlistStatus
	if err := getJSON(base+"/kap/watchlist", &status); err != nil {
		return fmt.Errorf("service not reachable at %s: %w", base, err)
	}
	if err := getJSON(base+"/kap/stats", &status.Stats); err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("🎯 kapimage Status\n")
	fmt.Printf("═══════════════════════════════════════\n\n")
	fmt.Printf("  Service:  %s\n", base)
	if status.WatchAvailable {
		fmt.Printf("  Watching: 🟢 available\n")
	} else {
		fmt.Printf("  Watching: 🔴 unavailable (automatic previews disabled)\n")
	}
	fmt.Printf("  Files:    %d\n\n", len(status.Paths))
	for _, p := range status.Paths {
		fmt.Printf("  👁️  %s\n", p)
	}

	fmt.Printf("\n📊 Statistics\n")
	fmt.Printf("  Preview events: %v published, %v dropped, %v subscribers\n",
		status.Stats.Events["published"], status.Stats.Events["dropped"], status.Stats.Events["subscribers"])
	fmt.Printf("  Digest cache:   %v entries, %v hits, %v misses\n",
		status.Stats.DigestCache["entries"], status.Stats.DigestCache["hits"], status.Stats.DigestCache["misses"])
	return nil
}
