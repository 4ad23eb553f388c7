// Command rolemesh runs role-played conversations between two personas and
// inspects stored transcripts.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/rolemesh"
	"github.com/hupe1980/rolemesh/config"
	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/evaluation"
	"github.com/hupe1980/rolemesh/logging"
	"github.com/hupe1980/rolemesh/memory"
	"github.com/hupe1980/rolemesh/persona"
	"github.com/hupe1980/rolemesh/runner"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "rolemesh",
		Short:         "rolemesh: role-played multi-agent conversations",
		Long:          "Drives two persona-bound agents through a conversation against a rate-limited generation service and keeps the transcript.",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading configuration")

	load := func() (*config.Config, logging.Logger, error) {
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logging.NewSlogLogger(cfg.Level(), cfg.LogFormat, false), nil
	}

	root.AddCommand(
		runCmd(load),
		transcriptCmd(load),
		scenariosCmd(load),
	)
	return root
}

type loader func() (*config.Config, logging.Logger, error)

func runCmd(load loader) *cobra.Command {
	var (
		scenario, first, second, message string
		maxTurns                         int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a conversation between two personas",
		Example: `  rolemesh run --scenario late_delivery --first angry_customer \
    --second support_agent --message "Where is my parcel?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := rolemesh.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			defer m.Close()

			r, err := m.NewConversation(ctx, scenario, first, second, func(o *runner.Options) { o.MaxTurns = maxTurns })
			if err != nil {
				return err
			}
			return converse(ctx, cmd.OutOrStdout(), r, scenario, first, second, message)
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "late_delivery", "Scenario name (file in the scenario directory)")
	cmd.Flags().StringVar(&first, "first", "angry_customer", "Persona speaking first")
	cmd.Flags().StringVar(&second, "second", "support_agent", "Persona answering")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Opening message")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 10, "Maximum number of turns")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

var emotionIcons = map[core.Emotion]string{
	core.EmotionHappy:      "😊",
	core.EmotionAngry:      "😠",
	core.EmotionFrustrated: "😤",
	core.EmotionNeutral:    "😐",
}

func converse(ctx context.Context, w io.Writer, r *runner.Runner, scenario, first, second, message string) error {
	fmt.Fprintf(w, "🚀 New session started (ID: %s)\n", shortID(r.SessionID()))
	fmt.Fprintf(w, "Scenario: %s\n", humanize(scenario))
	fmt.Fprintf(w, "Agents: %s ↔ %s\n", humanize(first), humanize(second))

	_, turns, done := r.Run(ctx, message)
	var played []runner.Turn
	for t := range turns {
		printTurn(w, t)
		played = append(played, t)
	}
	summary := <-done

	switch summary.Reason {
	case runner.StopExitPhrase:
		fmt.Fprintln(w, "\n💬 Conversation ended by exit phrase")
	case runner.StopResolved:
		fmt.Fprintln(w, "\n✅ Conversation reached a resolution")
	case runner.StopEscalated:
		fmt.Fprintln(w, "\n⚠️  Conversation escalated after a failure")
	case runner.StopCancelled:
		fmt.Fprintln(w, "\n🛑 Session terminated by user")
	default:
		fmt.Fprintf(w, "\n⏱  Stopped after %d turns\n", summary.Turns)
	}
	report, err := evaluation.Default{}.Evaluate(evaluation.Conversation{Personas: r.Personas(), Turns: played})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Summary: %s\n", report)
	fmt.Fprintf(w, "Transcript: rolemesh transcript %s\n", summary.SessionID)
	return nil
}

func printTurn(w io.Writer, t runner.Turn) {
	speaker := strings.ToUpper(string(t.Role))
	res := t.Result
	fmt.Fprintf(w, "\n%s %s\n%s\n%s\n", speaker, emotionIcons[res.Emotion], strings.Repeat("=", len(speaker)+2), res.Response)
	fmt.Fprintf(w, "\n(Confidence: %.0f%% | Emotion: %s | Action: %s)\n", res.Confidence*100, res.Emotion, res.Action)
	if res.Degraded() {
		fmt.Fprintf(w, "(degraded, %s: %s)\n", res.Signal, res.Reason)
	}
}

func transcriptCmd(load loader) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Print a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			store, err := memory.NewSQLiteStore(cfg.DBPath, cfg.MemoryOptions(logger))
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.Recent(cmd.Context(), args[0], limit, 0)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), memory.RenderTranscript(msgs))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the newest N messages (0 = all)")
	return cmd
}

func scenariosCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List available scenarios and their personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			reg := persona.NewRegistry(cfg.ScenarioDir)
			names, err := reg.Names()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintf(out, "no scenarios in %s\n", cfg.ScenarioDir)
				return nil
			}
			for _, n := range names {
				sc, err := reg.Scenario(n)
				if err != nil {
					fmt.Fprintf(out, "%s (invalid: %v)\n", n, err)
					continue
				}
				fmt.Fprintf(out, "%s: %s\n", sc.Name, sc.Description)
				for _, pn := range sc.PersonaNames() {
					p, _ := sc.Persona(pn)
					fmt.Fprintf(out, "  - %s (%s)\n", pn, p.RoleType)
				}
			}
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func humanize(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
