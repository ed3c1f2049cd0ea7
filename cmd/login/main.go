// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package main is the interactive login tool. It authenticates against
// the Bambu Lab cloud (handling email verification and MFA), saves the
// vendor token to the credential file, and can register a custom token
// mapping in the gateway's vault.
//
// Example usage:
//
//	bambugate-login -username user@example.com
//	bambugate-login -region china -force-new
//	bambugate-login -verify-only
//	bambugate-login -register my-custom-token -label laptop
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/tomtom215/bambugate/internal/bambu"
	"github.com/tomtom215/bambugate/internal/config"
	"github.com/tomtom215/bambugate/internal/logging"
	"github.com/tomtom215/bambugate/internal/sanitize"
	"github.com/tomtom215/bambugate/internal/vault"
)

func main() {
	var (
		username   = flag.String("username", "", "Bambu Lab account email (prompts if empty)")
		password   = flag.String("password", "", "account password (prompts if empty)")
		region     = flag.String("region", "global", "API region: global or china")
		credFile   = flag.String("credential-file", "", "path to the saved credential file")
		verifyOnly = flag.Bool("verify-only", false, "only verify the saved token")
		forceNew   = flag.Bool("force-new", false, "log in even when a valid token is saved")
		register   = flag.String("register", "", "custom token to register in the vault for the obtained vendor token")
		label      = flag.String("label", "", "label for the registered custom token")
		tokenFile  = flag.String("token-file", "", "path to the gateway's vault file (for -register)")
		timeout    = flag.Duration("timeout", 2*time.Minute, "overall login timeout")
	)
	flag.Parse()

	logging.Init(logging.Config{Level: "warn", Format: "console"})

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		// The login tool works without a config file; fall back to
		// built-in defaults for paths not given on the command line.
		cfg = nil
	}

	bambuCfg := config.BambuConfig{Region: *region, Timeout: 30 * time.Second}
	credentialFile := *credFile
	vaultFile := *tokenFile
	if cfg != nil {
		if credentialFile == "" {
			credentialFile = cfg.Bambu.CredentialFile
		}
		if vaultFile == "" {
			vaultFile = cfg.Gateway.TokenFile
		}
	}
	if credentialFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			credentialFile = filepath.Join(home, ".bambugate_credential.json")
		}
	}

	full := config.Config{Bambu: config.BambuConfig{Region: *region}}
	client := bambu.NewClient(full.VendorBaseURL(), bambuCfg)
	auth := bambu.NewAuthenticator(client, *region, credentialFile)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *verifyOnly {
		token := auth.LoadToken()
		if token == "" {
			fmt.Fprintln(os.Stderr, "no saved token found")
			os.Exit(1)
		}
		if !auth.VerifyToken(ctx, token) {
			fmt.Fprintln(os.Stderr, "saved token is invalid or expired")
			os.Exit(1)
		}
		fmt.Println("saved token is valid")
		return
	}

	user := *username
	if user == "" {
		user = prompt("Email: ")
	}
	pass := *password
	if pass == "" {
		pass = promptSecret("Password: ")
	}
	if user == "" || pass == "" {
		fmt.Fprintln(os.Stderr, "username and password are required")
		os.Exit(1)
	}

	token, err := auth.GetOrCreateToken(ctx, user, pass, promptCode, *forceNew)
	if err != nil {
		var authErr *bambu.AuthError
		if errors.As(err, &authErr) {
			fmt.Fprintf(os.Stderr, "login failed (%s): %v\n", authErr.Stage, err)
		} else {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("logged in, token %s saved to %s\n", sanitize.MaskToken(token), credentialFile)

	if *register != "" {
		if vaultFile == "" {
			fmt.Fprintln(os.Stderr, "-register needs -token-file or a loadable gateway config")
			os.Exit(1)
		}
		v, err := vault.New(vaultFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open vault: %v\n", err)
			os.Exit(1)
		}
		if err := v.Add(*register, token, *label); err != nil {
			fmt.Fprintf(os.Stderr, "failed to register token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("registered custom token %s in %s\n", sanitize.MaskToken(*register), vaultFile)
	}
}

// promptCode asks the operator for the verification or MFA code the
// vendor sent during login.
func promptCode(_ context.Context) (string, error) {
	code := prompt("Verification code: ")
	if code == "" {
		return "", errors.New("no code entered")
	}
	return code, nil
}

func prompt(label string) string {
	fmt.Print(label)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line)
}

func promptSecret(label string) string {
	fmt.Print(label)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return prompt("")
	}
	return strings.TrimSpace(string(data))
}
