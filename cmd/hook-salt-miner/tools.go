package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/screa/hook-salt-miner/internal/crypto"
	"github.com/screa/hook-salt-miner/pkg/types"
)

func newInnerSaltCmd() *cobra.Command {
	var user, outer string

	cmd := &cobra.Command{
		Use:   "inner-salt",
		Short: "Derive the inner salt the factory deploys with for an outer salt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userAddr, err := crypto.ParseAddress(user)
			if err != nil {
				return fmt.Errorf("invalid user address: %w", err)
			}
			outerSalt, err := crypto.ParseHash(outer)
			if err != nil {
				return fmt.Errorf("invalid outer salt: %w", err)
			}
			enc, err := types.ParseSaltEncoding(cfg.Encoding)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), crypto.InnerSalt(userAddr, outerSalt, enc).Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", cfg.User, "User address folded into the salt")
	cmd.Flags().StringVarP(&outer, "outer-salt", "o", "", "Outer salt (hex)")
	_ = cmd.MarkFlagRequired("outer-salt")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <address>",
		Short: "Report whether an address carries the required hook bits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.ParseAddress(args[0])
			if err != nil {
				return err
			}

			bits := crypto.HookBits(addr)
			ok := crypto.MatchesHookBits(addr, cfg.Mask, cfg.RequiredBits)
			fmt.Fprintf(cmd.OutOrStdout(), "%s low16=0x%04x %s: %t\n",
				addr.Hex(), bits, cfg.GetTargetDescription(), ok)
			if !ok {
				return fmt.Errorf("address does not match %s", cfg.GetTargetDescription())
			}
			return nil
		},
	}
}
