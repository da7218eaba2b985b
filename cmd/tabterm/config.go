package main

import (
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"

	"pkt.systems/tabterm/internal/appconfig"
)

const (
	totpIssuer  = "tabterm"
	totpAccount = "attach"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the tabterm config file",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var cfgPath string
	var force bool
	var withTOTP bool
	var enableSSH bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret, url string
			if withTOTP {
				var err error
				secret, url, err = generateTOTP()
				if err != nil {
					return err
				}
			}
			path, err := appconfig.WriteDefault(cfgPath, force, func(cfg *appconfig.Config) {
				if enableSSH || withTOTP {
					cfg.SSH.Enabled = true
				}
				cfg.SSH.TOTPSecret = secret
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "config written: %s\n", path)
			printTOTPEnrollment(out, secret, url)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&withTOTP, "totp", false, "generate a TOTP secret for ssh attach (enables ssh)")
	cmd.Flags().BoolVar(&enableSSH, "ssh", false, "enable the ssh attach server")
	return cmd
}

func generateTOTP() (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: totpAccount,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func printTOTPEnrollment(w io.Writer, secret, url string) {
	if secret != "" {
		_, _ = fmt.Fprintf(w, "totp_secret: %s\n", secret)
	}
	if url != "" {
		_, _ = fmt.Fprintf(w, "otpauth_url: %s\n", url)
		_, _ = fmt.Fprintln(w, "totp_qr:")
		qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	}
}
