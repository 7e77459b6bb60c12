// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/cli"
	"github.com/bureau-foundation/sessionpack/lib/sealed"
	"github.com/bureau-foundation/sessionpack/lib/secret"
)

type sealParams struct {
	Recipients []string `json:"recipients" flag:"recipient,r" desc:"age1... public key to seal to (repeatable; default: the configured identity)"`
	Input      string   `json:"input"      flag:"input,i"     desc:"read the secret from this file instead of stdin" default:"-"`
}

func sealCommand(globals *cli.Globals) *cli.Command {
	var params sealParams

	return &cli.Command{
		Name:    "seal",
		Summary: "Encrypt a credential for the configuration file",
		Description: `Read a secret (the first line of stdin, or --input) and print it
sealed with age, ready for email.password_sealed or server.token_sealed.

Without --recipient the secret is sealed to the identity named by
keys.identity, so only this machine can open it.`,
		Usage: "sessionpack seal [--recipient age1...]... [--input FILE]",
		Examples: []cli.Example{
			{
				Description: "Seal the SMTP password to this machine's identity",
				Command:     "printf '%s\\n' \"$SMTP_PASSWORD\" | sessionpack seal",
			},
		},
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			recipients := params.Recipients
			if len(recipients) == 0 {
				cfg, err := loadConfig(globals, logger)
				if err != nil {
					return err
				}
				recipient, err := identityRecipient(cfg.Keys.Identity)
				if err != nil {
					return err
				}
				recipients = []string{recipient}
			}

			plaintext, err := secret.ReadFromPath(params.Input)
			if err != nil {
				return err
			}
			defer plaintext.Close()

			ciphertext, err := sealed.Seal(plaintext.Bytes(), recipients)
			if err != nil {
				return err
			}
			fmt.Fprintln(globals.Out(), ciphertext)
			return nil
		},
	}
}

func identityRecipient(path string) (string, error) {
	key, err := sealed.LoadIdentity(path)
	if err != nil {
		return "", err
	}
	defer key.Close()
	return sealed.RecipientOf(key)
}

type keygenParams struct {
	Output string `json:"output" flag:"output,o" desc:"identity file to create (default: keys.identity)"`
}

func keygenCommand(globals *cli.Globals) *cli.Command {
	var params keygenParams

	return &cli.Command{
		Name:    "keygen",
		Summary: "Create the age identity that opens sealed credentials",
		Description: `Generate an age keypair and write it to keys.identity (or --output)
with mode 0600. An existing file is never overwritten. The public key
is printed for use with "sessionpack seal --recipient".`,
		Usage:  "sessionpack keygen [--output FILE]",
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			path := params.Output
			if path == "" {
				cfg, err := loadConfig(globals, logger)
				if err != nil {
					return err
				}
				path = cfg.Keys.Identity
			}
			if path == "" {
				return errors.New("no identity path: set keys.identity or pass --output")
			}

			identity, err := sealed.GenerateIdentity()
			if err != nil {
				return err
			}
			defer identity.Close()
			if err := sealed.WriteIdentityFile(path, identity); err != nil {
				return err
			}
			logger.Info("wrote identity", "path", path)
			fmt.Fprintln(globals.Out(), identity.Recipient)
			return nil
		},
	}
}
