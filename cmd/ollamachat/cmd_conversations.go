package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/comigor/ollamachat/internal/export"
	"github.com/comigor/ollamachat/internal/history"
	"github.com/comigor/ollamachat/internal/session"
)

func runModels(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	coord := a.coordinator("")
	chosen, models, err := session.ChooseModel(cmd.Context(), coord, a.cfg.Generation.Model, false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range models {
		marker := " "
		if m == chosen {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, m)
	}
	return nil
}

func runListConversations(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	summaries, err := a.store.Summaries(cmd.Context())
	if err != nil {
		return err
	}
	printSummaries(cmd.OutOrStdout(), summaries)
	return nil
}

func runSearchConversations(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	summaries, err := a.store.Search(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printSummaries(cmd.OutOrStdout(), summaries)
	return nil
}

func printSummaries(out io.Writer, summaries []history.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(out, export.NoConversations)
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLAST ACTIVITY\tMODEL\tQUESTION\tANSWER")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.GroupID, s.LastActivity.Local().Format(time.DateTime), s.Engine, s.FirstQuestion, s.FirstAnswer)
	}
	tw.Flush()
}

func runDeleteConversation(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteGroup(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runClearConversations(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.store.DeleteAll(cmd.Context())
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	messages, last, err := session.LoadHistory(cmd.Context(), a.store, args[0])
	if err != nil {
		return err
	}
	meta := export.Meta{Model: a.cfg.Generation.Model, BaseURL: a.cfg.Server.BaseURL, GeneratedAt: time.Now()}
	if last != nil {
		meta.Model = *last
	}
	md := export.Markdown(messages, meta)

	if outputPath == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), md)
		return err
	}
	return os.WriteFile(outputPath, []byte(md), 0o644)
}
