package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/auracap/internal/config"
	"github.com/dgnsrekt/auracap/internal/pagehook"
)

func newHookPrintCommand() *cobra.Command {
	var bridgeOnly, skipValidate bool
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the page scripts injected into attached tabs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			rules, err := config.LoadRules(cfg.RulesFile)
			if err != nil {
				return err
			}
			opts := hookOptions(cfg, rules)
			if !skipValidate {
				if err := pagehook.Validate(opts, pagehook.DefaultBinding); err != nil {
					return err
				}
			}

			bridgeJS, err := pagehook.BridgeScript(pagehook.DefaultBinding)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if bridgeOnly {
				fmt.Fprintln(out, bridgeJS)
				return nil
			}
			hookJS, err := pagehook.Script(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "// main world\n%s\n\n// isolated world %q\n%s\n", hookJS, pagehook.DefaultWorld, bridgeJS)
			return nil
		},
	}
	cmd.Flags().BoolVar(&bridgeOnly, "bridge", false, "print only the isolated-world bridge")
	cmd.Flags().BoolVar(&skipValidate, "no-validate", false, "skip compiling the scripts before printing")
	return cmd
}

func hookOptions(cfg *config.Config, rules *config.Rules) pagehook.Options {
	opts := pagehook.DefaultOptions()
	if cfg.HookRetryMS > 0 {
		opts.RetryMS = cfg.HookRetryMS
	}
	if cfg.HookMaxAttempts > 0 {
		opts.MaxAttempts = cfg.HookMaxAttempts
	}
	if rules != nil && len(rules.HookTargets) > 0 {
		opts.Targets = rules.HookTargets
	}
	return opts
}
