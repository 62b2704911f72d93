package main

import (
	"github.com/spf13/cobra"

	"github.com/hurttlocker/roster/internal/config"
)

func (a *app) configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			// Never print key material.
			keys := make(map[string]config.ResolvedValue, len(cfg.LLMKeys))
			for p, v := range cfg.LLMKeys {
				v.Value = redact(v.Value)
				keys[p] = v
			}
			cfg.LLMKeys = keys

			if a.jsonOut {
				return a.printJSON(map[string]interface{}{
					"config":        cfg,
					"suggest_floor": cfg.SuggestFloor(),
				})
			}

			a.printf("config file:    %s\n", cfg.ConfigPath)
			row := func(name string, v config.ResolvedValue) {
				if v.Value == "" {
					a.printf("%-15s (unset)\n", name+":")
					return
				}
				a.printf("%-15s %s  [%s %s]\n", name+":", v.Value, v.Source, v.From)
			}
			row("db", cfg.DBPath)
			row("llm", cfg.LLMProvider)
			row("llm extract", cfg.LLMExtractModel)
			row("transcribe", cfg.TranscribeModel)
			row("log level", cfg.LogLevel)
			a.printf("%-15s %.2f\n", "suggest floor:", cfg.SuggestFloor())
			for p, v := range keys {
				row(p+" key", v)
			}
			return nil
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.printf("roster %s (%s)\n", version, commit)
			return nil
		},
	}
}

func redact(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
