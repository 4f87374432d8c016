package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/keygate/internal/config"
	"github.com/allaspectsdev/keygate/internal/vault"
)

func cmdKeys(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: keygate keys <list|set|delete> [name]")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "list":
		cfg, err := config.Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
			os.Exit(1)
		}
		if len(cfg.Credentials.KeyRefs) == 0 {
			fmt.Println("No credentials configured")
			return
		}
		for _, ref := range cfg.Credentials.KeyRefs {
			if _, err := v.ResolveKeyRef(ref); err != nil {
				fmt.Printf("  %-40s unresolved: %v\n", ref, err)
			} else {
				fmt.Printf("  %-40s ok\n", ref)
			}
		}

	case "set":
		if len(args) < 2 {
			fmt.Println("Usage: keygate keys set <name>")
			os.Exit(1)
		}
		name := strings.ToLower(args[1])
		fmt.Printf("Enter credential %s: ", name)
		key, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading credential: %v\n", err)
			os.Exit(1)
		}
		if err := v.Set(name, string(key)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing credential: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Credential %s stored\n", name)
		fmt.Printf("Reference it in the config as keyring://keygate/%s\n", name)

	case "delete":
		if len(args) < 2 {
			fmt.Println("Usage: keygate keys delete <name>")
			os.Exit(1)
		}
		name := strings.ToLower(args[1])
		if err := v.Delete(name); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting credential: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Credential %s deleted\n", name)

	default:
		fmt.Fprintf(os.Stderr, "unknown keys command: %s\n", args[0])
		os.Exit(1)
	}
}
