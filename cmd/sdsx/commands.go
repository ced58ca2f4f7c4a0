package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/sdsx/internal/api"
	"github.com/kalambet/sdsx/internal/config"
	"github.com/kalambet/sdsx/internal/pipeline"
)

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>...",
	Short: "Extract every section from local SDS files",
	Long: `Extract every section from local SDS files without a running server.

Each record is printed to stdout and appended to the results file. A failure
on one file does not stop the others.

Examples:
  sdsx extract ./sheets/acetone.pdf
  sdsx extract ./sheets/*.pdf --no-save`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noSave, _ := cmd.Flags().GetBool("no-save")

		files, err := fileResolver(args)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, files.resolve, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		failed := 0
		for _, name := range files.names {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rec, err := a.pipeline.Run(ctx, name)
			if err != nil {
				failed++
				printError("%s: %v", name, err)
				continue
			}
			if err := enc.Encode(rec); err != nil {
				return err
			}
			if !noSave {
				if err := a.results.Append(rec); err != nil {
					failed++
					printError("%s: saving record: %v", name, err)
					continue
				}
			}
			printSuccess("%s: %d sections, %d tokens, cost %s", name, len(rec.Sections), rec.TotalTokens, rec.TotalCost.String())
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(files.names))
		}
		if !noSave {
			printStep("Records appended to %s", a.results.Path())
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().Bool("no-save", false, "print records without appending them to the results file")
}

// localFiles maps document names (file base names) to the paths given on
// the command line.
type localFiles struct {
	names []string
	paths map[string]string
}

func fileResolver(args []string) (*localFiles, error) {
	lf := &localFiles{paths: make(map[string]string, len(args))}
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", arg, err)
		}
		name := filepath.Base(abs)
		if prev, ok := lf.paths[name]; ok && prev != abs {
			return nil, fmt.Errorf("%s and %s share the document name %q", prev, abs, name)
		} else if ok {
			continue
		}
		lf.paths[name] = abs
		lf.names = append(lf.names, name)
	}
	return lf, nil
}

func (lf *localFiles) resolve(name string) (string, error) {
	path, ok := lf.paths[name]
	if !ok {
		return "", fmt.Errorf("document %q was not given on the command line", name)
	}
	return path, nil
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload an SDS to the running server",
	Long: `Upload an SDS to the running server.

Examples:
  sdsx upload ./acetone.pdf
  sdsx upload ./acetone.pdf --extract
  sdsx upload ./acetone.pdf --queue`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		extractNow, _ := cmd.Flags().GetBool("extract")
		queue, _ := cmd.Flags().GetBool("queue")
		if extractNow && queue {
			return errors.New("--extract and --queue are mutually exclusive")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		resp, err := client.upload(ctx, args[0])
		if err != nil {
			return err
		}
		var doc api.DocumentResponse
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Uploaded %s (%d bytes, sha256 %.12s)", doc.Name, doc.SizeBytes, doc.SHA256)

		switch {
		case extractNow:
			printStep("Extracting %s...", doc.Name)
			resp, err := client.post(ctx, "/v1/documents/"+doc.Name+"/extract", nil)
			if err != nil {
				return err
			}
			var rec pipeline.DocumentRecord
			if err := decodeJSON(resp, &rec); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		case queue:
			resp, err := client.post(ctx, "/v1/documents/"+doc.Name+"/jobs", nil)
			if err != nil {
				return err
			}
			var job map[string]string
			if err := decodeJSON(resp, &job); err != nil {
				return err
			}
			printSuccess("Queued extraction job %s", job["id"])
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().Bool("extract", false, "extract the document after uploading and print the record")
	uploadCmd.Flags().Bool("queue", false, "queue an asynchronous extraction after uploading")
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the extraction tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// stdout carries the protocol; progress goes to stderr.
		a, err := buildApp(ctx, cfg, nil, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:    a.store,
			Pipeline: a.pipeline,
			Results:  a.results,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
