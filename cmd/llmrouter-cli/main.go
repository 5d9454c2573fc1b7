// Package main provides the llmrouter-cli command-line tool: static config
// validation plus operator inspection of a running llmrouter server's
// dynamic routing surface (catalog, circuit breakers, cache/route stats).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quaylabs/llmrouter"
	"github.com/quaylabs/llmrouter/internal/version"
	"github.com/quaylabs/llmrouter/plugin"

	// Register built-in plugins so they appear in the plugin list.
	_ "github.com/quaylabs/llmrouter/internal/plugins/cache"
	_ "github.com/quaylabs/llmrouter/internal/plugins/logger"
	_ "github.com/quaylabs/llmrouter/internal/plugins/maxtoken"
	_ "github.com/quaylabs/llmrouter/internal/plugins/wordfilter"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:   "llmrouter-cli",
		Short: "llmrouter command line tool",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "running llmrouter server base URL")

	root.AddCommand(
		newValidateCmd(),
		newPluginsCmd(),
		newVersionCmd(),
		newCatalogCmd(),
		newCircuitsCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := llmrouter.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			if err := llmrouter.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}

			fmt.Printf("✓ Config is valid\n")
			fmt.Printf("  Strategy:  %s\n", cfg.Strategy.Mode)
			fmt.Printf("  Targets:   %d\n", len(cfg.Targets))

			var targetNames []string
			for _, t := range cfg.Targets {
				targetNames = append(targetNames, t.VirtualKey)
			}
			fmt.Printf("  Providers: %s\n", strings.Join(targetNames, ", "))

			if len(cfg.Plugins) > 0 {
				var pluginNames []string
				for _, p := range cfg.Plugins {
					status := "disabled"
					if p.Enabled {
						status = "enabled"
					}
					pluginNames = append(pluginNames, fmt.Sprintf("%s (%s)", p.Name, status))
				}
				fmt.Printf("  Plugins:   %s\n", strings.Join(pluginNames, ", "))
			}
			return nil
		},
	}
}

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List all registered plugins",
		RunE: func(_ *cobra.Command, _ []string) error {
			names := plugin.RegisteredPlugins()
			if len(names) == 0 {
				fmt.Println("No plugins registered.")
				return nil
			}
			fmt.Println("Registered plugins:")
			for _, name := range names {
				factory, _ := plugin.GetFactory(name)
				p := factory()
				fmt.Printf("  %-20s type=%s\n", name, p.Type())
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("llmrouter-cli %s\n", version.String())
			return nil
		},
	}
}

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the routing models the server currently sees (GET /v1/route/models)",
		RunE: func(_ *cobra.Command, _ []string) error {
			var models []map[string]interface{}
			if err := getJSON(serverURL+"/v1/route/models", &models); err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Println("No models in catalog.")
				return nil
			}
			fmt.Printf("%-28s %-14s %-8s\n", "MODEL", "PROVIDER", "ENABLED")
			for _, m := range models {
				fmt.Printf("%-28v %-14v %-8v\n", m["ID"], m["Provider"], m["Enabled"])
			}
			return nil
		},
	}
}

func newCircuitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "circuits",
		Short: "Show circuit-breaker state per model (GET /v1/route/stats)",
		RunE: func(_ *cobra.Command, _ []string) error {
			var body struct {
				Circuits map[string]json.RawMessage `json:"circuits"`
			}
			if err := getJSON(serverURL+"/v1/route/stats", &body); err != nil {
				return err
			}
			if len(body.Circuits) == 0 {
				fmt.Println("No circuit-breaker activity recorded yet.")
				return nil
			}
			for model, state := range body.Circuits {
				fmt.Printf("%-28s %s\n", model, state)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <model>",
		Short: "Force a model's circuit breaker closed (POST /v1/route/circuits/reset/{model})",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return postJSON(serverURL+"/v1/route/circuits/reset/"+args[0], nil)
		},
	})
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show routing and cache stats (GET /v1/route/stats)",
		RunE: func(_ *cobra.Command, _ []string) error {
			var body map[string]interface{}
			if err := getJSON(serverURL+"/v1/route/stats", &body); err != nil {
				return err
			}
			out, err := json.MarshalIndent(body["stats"], "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(url string, out interface{}) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(url string, body io.Reader) error {
	resp, err := httpClient.Post(url, "application/json", body)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, string(respBody))
	}
	respBody, _ := io.ReadAll(resp.Body)
	fmt.Println(string(respBody))
	return nil
}
