// Command nscr is a thin CLI client for a running nscr registry's admin
// and protocol surfaces.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "nscr",
		Usage: "control and inspect a running nscr registry",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "registry-url",
				Value: "http://localhost:7000",
				Usage: "base URL of the registry to talk to",
			},
		},
		Commands: []*cli.Command{
			listReposCommand(),
			listTagsCommand(),
			deleteImageCommand(),
			garbageCollectCommand(),
			gcStatsCommand(),
			statusCommand(),
		},
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "nscr:", err)
		os.Exit(1)
	}
}

func baseURL(cmd *cli.Command) string {
	return cmd.Root().String("registry-url")
}

func listReposCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-repos",
		Usage: "list all repositories in the registry's catalog",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var body struct {
				Repositories []string `json:"repositories"`
			}
			if err := getJSON(ctx, baseURL(cmd)+"/v2/_catalog", &body); err != nil {
				return err
			}
			for _, r := range body.Repositories {
				fmt.Println(r)
			}
			return nil
		},
	}
}

func listTagsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-tags",
		Usage:     "list tags for a repository",
		ArgsUsage: "<repo>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo := cmd.Args().First()
			if repo == "" {
				return fmt.Errorf("list-tags requires a repository argument")
			}
			var body struct {
				Tags []string `json:"tags"`
			}
			if err := getJSON(ctx, baseURL(cmd)+"/v2/"+repo+"/tags/list", &body); err != nil {
				return err
			}
			for _, t := range body.Tags {
				fmt.Println(t)
			}
			return nil
		},
	}
}

func deleteImageCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-image",
		Usage:     "delete a tagged manifest",
		ArgsUsage: "<repo> <tag>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 2 {
				return fmt.Errorf("delete-image requires a repository and a tag argument")
			}
			url := fmt.Sprintf("%s/v2/%s/manifests/%s", baseURL(cmd), args.Get(0), args.Get(1))
			req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				data, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("delete-image failed: %s: %s", resp.Status, data)
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func garbageCollectCommand() *cli.Command {
	return &cli.Command{
		Name:  "garbage-collect",
		Usage: "run garbage collection now",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(cmd)+"/api/garbage-collect", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				data, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("garbage-collect failed: %s: %s", resp.Status, data)
			}
			io.Copy(os.Stdout, resp.Body)
			return nil
		},
	}
}

func gcStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "gc-stats",
		Usage: "show garbage-collection dry-run counts",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var body map[string]any
			if err := getJSON(ctx, baseURL(cmd)+"/api/garbage-collect/stats", &body); err != nil {
				return err
			}
			data, _ := json.MarshalIndent(body, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "check that the registry is reachable",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(cmd)+"/v2/", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("registry unreachable: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("registry returned %s", resp.Status)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed: %s: %s", url, resp.Status, data)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
