package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var apiHost string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "cdrengine-cli",
		Short: "CLI for inspecting a running cdrengine instance",
	}
	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://localhost:9090", "base URL of the operator surface")

	var statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show live engine counters",
		Run:   runStats,
	}

	var healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check whether the engine is responding",
		Run:   runHealth,
	}

	rootCmd.AddCommand(statsCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runStats(cmd *cobra.Command, args []string) {
	resp, err := http.Get(apiHost + "/stats")
	if err != nil {
		fmt.Printf("error reaching operator surface: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("operator surface returned %s\n", resp.Status)
		os.Exit(1)
	}

	var stats struct {
		ActiveChannels int
		BridgeKeys     int
		BatchDepth     int
		Backends       []string
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		fmt.Printf("error decoding stats: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTIVE CHANNELS\tBRIDGE KEYS\tBATCH DEPTH\tBACKENDS")
	fmt.Fprintln(w, "---------------\t-----------\t-----------\t--------")
	fmt.Fprintf(w, "%d\t%d\t%d\t%v\n", stats.ActiveChannels, stats.BridgeKeys, stats.BatchDepth, stats.Backends)
	w.Flush()
}

func runHealth(cmd *cobra.Command, args []string) {
	resp, err := http.Get(apiHost + "/health")
	if err != nil {
		fmt.Printf("unreachable: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	fmt.Println(resp.Status)
}
