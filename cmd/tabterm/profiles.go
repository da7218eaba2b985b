package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/appconfig"
	"pkt.systems/tabterm/internal/profilestore"
	"pkt.systems/tabterm/schema"
)

func newProfilesCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage saved session profiles",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newProfilesListCmd(&cfgPath))
	cmd.AddCommand(newProfilesAddCmd(&cfgPath))
	cmd.AddCommand(newProfilesRemoveCmd(&cfgPath))

	return cmd
}

func openProfileStore(cmd *cobra.Command, cfgPath string) (profilestore.Store, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return profilestore.Open(cmd.Context(), toProfilesConfig(cfg.Profiles), pslog.Ctx(cmd.Context()))
}

func newProfilesListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProfileStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			profiles, err := store.ListProfiles(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(profiles) == 0 {
				_, _ = fmt.Fprintln(out, "no profiles")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tNAME\tTARGET\tAUTH\tGROUP")
			for _, p := range profiles {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Target(), p.AuthType, p.Group)
			}
			return tw.Flush()
		},
	}
}

func newProfilesAddCmd(cfgPath *string) *cobra.Command {
	var profile schema.SessionProfile
	var authType string
	var passwordFromStdin bool
	cmd := &cobra.Command{
		Use:   "add <user@host>",
		Short: "Add a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, host, ok := strings.Cut(args[0], "@")
			if !ok {
				return errors.New("target must be user@host")
			}
			profile.Username = user
			profile.Host = host
			profile.AuthType = schema.AuthType(authType)
			profile = schema.NormalizeProfile(profile)
			if profile.AuthType == schema.AuthPassword {
				password, err := resolvePassword(cmd, passwordFromStdin)
				if err != nil {
					return err
				}
				profile.Password = password
			}
			if err := schema.ValidateProfile(profile); err != nil {
				return err
			}
			store, err := openProfileStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			saved, err := store.SaveProfile(cmd.Context(), profile)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "profile added: %s (%s)\n", saved.ID, saved.Target())
			return nil
		},
	}
	cmd.Flags().StringVar(&profile.Name, "name", "", "display name (defaults to user@host:port)")
	cmd.Flags().IntVarP(&profile.Port, "port", "p", 22, "ssh port")
	cmd.Flags().StringVar(&profile.Group, "group", "", "profile group")
	cmd.Flags().StringVar(&authType, "auth", string(schema.AuthPassword), "auth type (password or key)")
	cmd.Flags().StringVarP(&profile.PrivateKeyPath, "key", "i", "", "private key path for key auth")
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	return cmd
}

func newProfilesRemoveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <profile-id>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProfileStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.DeleteProfile(cmd.Context(), schema.ProfileID(args[0])); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "profile deleted: %s\n", args[0])
			return nil
		},
	}
}

func resolvePassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		pass := strings.TrimRight(string(data), "\r\n")
		if pass == "" {
			return "", errors.New("password from stdin is empty")
		}
		return pass, nil
	}
	passphrase, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	if len(passphrase) == 0 {
		return "", errors.New("password is empty")
	}
	return string(passphrase), nil
}
