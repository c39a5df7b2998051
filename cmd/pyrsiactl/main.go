// Copyright 2024 The OSS Rebuild Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// pyrsiactl is a thin CLI client of a pyrsia node's HTTP front door.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ihcomega56/pyrsia/internal/httpx"
	"github.com/ihcomega56/pyrsia/pkg/artifact"
	"github.com/ihcomega56/pyrsia/pkg/coordinatorapi"
)

var nodeAddr string

var rootCmd = &cobra.Command{
	Use:   "pyrsiactl [subcommand]",
	Short: "A CLI client for a pyrsia node",
}

func client() (*coordinatorapi.Client, error) {
	u, err := url.Parse(nodeAddr)
	if err != nil {
		return nil, errors.Wrap(err, "parsing node address")
	}
	httpClient := &httpx.WithUserAgent{BasicClient: http.DefaultClient, UserAgent: "pyrsiactl/1"}
	return coordinatorapi.NewClient(httpClient, u), nil
}

var getCmd = &cobra.Command{
	Use:   "get <type> <artifact-id>",
	Short: "Fetch a single artifact by its package type and artifact id.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			log.Fatal(err)
		}
		resp, err := c.GetArtifact(context.Background(), coordinatorapi.GetArtifactRequest{
			PackageType:             artifact.PackageType(args[0]),
			PackageSpecificArtifact: artifact.PackageSpecificArtifactID(args[1]),
		})
		if err != nil {
			log.Fatal(errors.Wrap(err, "getting artifact"))
		}
		if _, err := cmd.OutOrStdout().Write(resp.Data); err != nil {
			log.Fatal(err)
		}
	},
}

var buildCmd = &cobra.Command{
	Use:   "build <type> <package-id>",
	Short: "Request a build for a package.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			log.Fatal(err)
		}
		resp, err := c.RequestBuild(context.Background(), coordinatorapi.RequestBuildRequest{
			PackageType:       artifact.PackageType(args[0]),
			PackageSpecificID: artifact.PackageSpecificID(args[1]),
		})
		if err != nil {
			log.Fatal(errors.Wrap(err, "requesting build"))
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.BuildID)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <build-id>",
	Short: "Get a previously requested build's status.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			log.Fatal(err)
		}
		resp, err := c.GetBuildStatus(context.Background(), coordinatorapi.GetBuildStatusRequest{BuildID: args[0]})
		if err != nil {
			log.Fatal(errors.Wrap(err, "getting build status"))
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <type> <package-id>",
	Short: "List transparency log entries recorded for a package.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			log.Fatal(err)
		}
		resp, err := c.GetLogsForArtifact(context.Background(), coordinatorapi.GetLogsForArtifactRequest{
			PackageType:       artifact.PackageType(args[0]),
			PackageSpecificID: artifact.PackageSpecificID(args[1]),
		})
		if err != nil {
			log.Fatal(errors.Wrap(err, "listing logs"))
		}
		for _, e := range resp.Entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", e.ArtifactID, e.PackageSpecificArtifact, e.ArtifactHash)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&nodeAddr, "node", "http://localhost:8080", "address of the pyrsia node to talk to")
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
