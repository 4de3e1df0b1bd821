/*
 * Copyright 2017 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stash.kopano.io/kc/kuma/bootstrap"
	"stash.kopano.io/kc/kuma/config"
	"stash.kopano.io/kc/kuma/server"
)

const defaultListenAddr = "127.0.0.1:8778"

func commandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [...args]",
		Short: "Start server and listen for requests",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("listen", defaultListenAddr, "TCP listen address")
	serveCmd.Flags().String("iss", "", "Issuer URL")
	serveCmd.Flags().String("signing-private-key", "", "Full path to PEM encoded private key file")
	serveCmd.Flags().String("signing-kid", "", "Value of kid field to use in presented JWT tokens")
	serveCmd.Flags().String("encryption-secret", "", "Full path to a file containing the encryption secret")
	serveCmd.Flags().String("registration-conf", "", "Path to a client registration configuration file")
	serveCmd.Flags().StringArray("trusted-proxy", nil, "Trusted proxy IP or IP network (can be used multiple times)")
	serveCmd.Flags().StringArray("trusted-source", nil, "Trusted source IP or IP network for the permission and introspection endpoints (can be used multiple times)")
	serveCmd.Flags().StringArray("trusted-post-logout-redirect-uri", nil, "Post logout redirect URI accepted without client association (can be used multiple times)")
	serveCmd.Flags().Bool("require-id-token-hint", false, "Reject end session requests without id_token_hint parameter")
	serveCmd.Flags().Bool("allow-hint-as-access-token", false, "Additionally resolve unresolved id_token_hint values as access tokens")
	serveCmd.Flags().Bool("reject-unresolved-hints", false, "Reject end session requests whose id_token_hint does not resolve to a stored grant")
	serveCmd.Flags().Bool("allow-mismatched-sid", false, "Skip session ID consistency checks on end session requests")
	serveCmd.Flags().Bool("disable-redirect-error-delivery", false, "Always deliver end session errors directly instead of via redirect")
	serveCmd.Flags().String("gathering-page-base", "", "Base URI for claims gathering step pages")
	serveCmd.Flags().String("gathering-script", "", "Name of the default claims gathering script")
	serveCmd.Flags().Uint64("logout-token-duration", 0, "Logout token duration in seconds")
	serveCmd.Flags().Uint64("ticket-duration", 0, "Permission ticket duration in seconds")
	serveCmd.Flags().Uint64("rpt-duration", 0, "Requesting party token duration in seconds")
	serveCmd.Flags().Uint64("pct-duration", 0, "Persisted claims token duration in seconds")
	serveCmd.Flags().Bool("insecure", false, "Disable TLS certificate and hostname validation")
	serveCmd.Flags().Bool("log-timestamp", true, "Prefix each log line with timestamp")
	serveCmd.Flags().String("log-level", "info", "Log level (one of panic, fatal, error, warn, info or debug)")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	logTimestamp, _ := cmd.Flags().GetBool("log-timestamp")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(!logTimestamp, logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	logger.Infoln("serve start")

	cfg := &config.Config{
		Logger: logger,
	}

	bsConf := &bootstrap.Config{}
	bsConf.Listen, _ = cmd.Flags().GetString("listen")
	bsConf.Iss, _ = cmd.Flags().GetString("iss")
	bsConf.SigningPrivateKeyFile, _ = cmd.Flags().GetString("signing-private-key")
	bsConf.SigningKid, _ = cmd.Flags().GetString("signing-kid")
	bsConf.EncryptionSecretFile, _ = cmd.Flags().GetString("encryption-secret")
	bsConf.RegistrationConfFile, _ = cmd.Flags().GetString("registration-conf")
	bsConf.TrustedProxy, _ = cmd.Flags().GetStringArray("trusted-proxy")
	bsConf.TrustedSource, _ = cmd.Flags().GetStringArray("trusted-source")
	bsConf.TrustedPostLogoutRedirectURIs, _ = cmd.Flags().GetStringArray("trusted-post-logout-redirect-uri")
	bsConf.RequireIDTokenHint, _ = cmd.Flags().GetBool("require-id-token-hint")
	bsConf.AllowHintAsAccessToken, _ = cmd.Flags().GetBool("allow-hint-as-access-token")
	bsConf.RejectUnresolvedHints, _ = cmd.Flags().GetBool("reject-unresolved-hints")
	bsConf.AllowMismatchedSid, _ = cmd.Flags().GetBool("allow-mismatched-sid")
	bsConf.DisableRedirectErrorDelivery, _ = cmd.Flags().GetBool("disable-redirect-error-delivery")
	bsConf.GatheringPageBase, _ = cmd.Flags().GetString("gathering-page-base")
	bsConf.DefaultGatheringScript, _ = cmd.Flags().GetString("gathering-script")
	bsConf.LogoutTokenDurationSeconds, _ = cmd.Flags().GetUint64("logout-token-duration")
	bsConf.TicketDurationSeconds, _ = cmd.Flags().GetUint64("ticket-duration")
	bsConf.RPTDurationSeconds, _ = cmd.Flags().GetUint64("rpt-duration")
	bsConf.PCTDurationSeconds, _ = cmd.Flags().GetUint64("pct-duration")
	bsConf.Insecure, _ = cmd.Flags().GetBool("insecure")

	bs, err := bootstrap.Boot(ctx, bsConf, cfg)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(&server.Config{
		Config: cfg,

		EndSession: bs.EndSessionProvider(),
		Uma:        bs.UmaService(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	logger.Infoln("serve started")
	return srv.Serve(ctx)
}
