package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pepper/internal/annotate"
	"pepper/internal/ui"
)

var (
	annotatorURL string
	resumeFile   string
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Label dependency relations phrase by phrase",
	RunE:  runAnnotate,
}

func init() {
	annotateCmd.Flags().StringVar(&annotatorURL, "server", "", "annotation backend base URL (default annotator.api_base)")
	annotateCmd.Flags().StringVar(&resumeFile, "resume", "", "continue a saved [phrase, {heads, deps}] annotation instead of fetching a phrase")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	base := annotatorURL
	if base == "" {
		base = cfg.Annotator.APIBase
	}
	vocab := annotate.DefaultVocabulary()
	if cfg.Annotator.RelationsFile != "" {
		loaded, err := annotate.LoadVocabulary(cfg.Annotator.RelationsFile)
		if err != nil {
			return err
		}
		vocab = loaded
	}

	client := annotate.NewClient(base, &http.Client{Timeout: 30 * time.Second})
	tool := annotate.NewTool(client, vocab)
	if resumeFile != "" {
		if err := resume(tool, resumeFile); err != nil {
			return err
		}
	}
	if _, err := tea.NewProgram(ui.NewAnnotateModel(tool), tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("run annotation view: %w", err)
	}
	return nil
}

func resume(tool *annotate.Tool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read saved annotation: %w", err)
	}
	a, err := annotate.ParseAnnotation(data)
	if err != nil {
		return err
	}
	return tool.Restore(a)
}
