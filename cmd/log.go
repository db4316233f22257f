// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var logLevelAddr string

var logLevelCmd = &cobra.Command{
	Use:       "log-level [debug|info|warn|error]",
	Short:     "Change a running agent's log level over its admin route",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"debug", "info", "warn", "error"},
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := http.PostForm("http://"+logLevelAddr+"/-/logger", url.Values{"level": {args[0]}})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to reach agent: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "agent returned status %s\n", resp.Status)
			os.Exit(1)
		}
		fmt.Printf("log level set to %s\n", args[0])
	},
	Example: "  flowcap log-level debug --addr 127.0.0.1:9090",
}

func init() {
	logLevelCmd.Flags().StringVar(&logLevelAddr, "addr", "127.0.0.1:9090", "Agent admin server address")
	rootCmd.AddCommand(logLevelCmd)
}
