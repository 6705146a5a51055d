// Package cmd provides the CLI commands for AILink.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ailink-gateway/ailink/internal/config"
)

var cfgFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "ailink",
	Short: "AILink - LLM provider gateway",
	Long: `AILink is a reverse-proxy gateway that sits in front of OpenAI, Anthropic,
and Gemini, giving every caller a single OpenAI-compatible endpoint backed by
policy enforcement, credential injection, response caching, cost accounting,
human approval, and audit logging.

Quick start:
  1. Create a config file: ailink.yaml
  2. Run: ailink start

Configuration:
  Config is loaded from ailink.yaml in the current directory,
  $HOME/.ailink/, or /etc/ailink/.

  Environment variables can override config values with the AILINK_ prefix.
  Example: AILINK_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway server
  stop        Stop the running server
  reset       Reset to clean state (remove state.json)
  hash-key    Generate SHA256 hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ailink.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to state.json file (default: ./state.json)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
