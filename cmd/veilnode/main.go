// veilnode is the local command-line surface over the chat engine: it
// creates and unlocks the installation identity against the encrypted
// file stores, exports and restores the passphrase-sealed backup
// envelope, and reports local state. The gossip transport itself is not
// started here; veilnode operates purely on local persistence.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/backup"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/domains/identity"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/obslog"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/storage"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/transport"
)

const (
	exitOK            = 0
	exitInvalidInput  = 10
	exitStoreFailed   = 20
	exitBadPassphrase = 30
)

const passphraseEnvVar = "VEILNODE_PASSPHRASE"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "export-backup":
		runExportBackup(os.Args[2:])
	case "restore-backup":
		runRestoreBackup(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "veilnode data directory")
	passphrase := fs.String("passphrase", os.Getenv(passphraseEnvVar), "identity passphrase")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*passphrase) == "" {
		writeStderrln("passphrase is required", exitInvalidInput)
	}

	log := obslog.New(os.Stderr)
	stores, err := storage.NewEncryptedFileStores(*dataDir, *passphrase)
	if err != nil {
		writeStderrln(err.Error(), exitStoreFailed)
		return
	}
	mgr := identity.NewManager(stores.Identity)
	chatKey, mnemonic, err := mgr.CreateIdentity(*passphrase)
	if err != nil {
		writeStderrln(err.Error(), exitStoreFailed)
		return
	}
	log.Event("identity_created", map[string]any{"data_dir": *dataDir})
	if err := printJSON(map[string]any{
		"chat_key":        chatKey,
		"recovery_phrase": mnemonic,
	}); err != nil {
		writeStderrln(err.Error(), exitStoreFailed)
	}
	os.Exit(exitOK)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "veilnode data directory")
	passphrase := fs.String("passphrase", os.Getenv(passphraseEnvVar), "identity passphrase")
	configPath := fs.String("config", "", "transport config yaml")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	stores, mgr := openStores(*dataDir, *passphrase)
	if err := mgr.Unlock(*passphrase); err != nil {
		writeStderrln(err.Error(), exitBadPassphrase)
		return
	}
	chatKey, err := mgr.ChatKey()
	if err != nil {
		writeStderrln(err.Error(), exitStoreFailed)
		return
	}

	cfg, err := transport.LoadConfigFile(*configPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
		return
	}
	if err := printJSON(map[string]any{
		"chat_key":        chatKey,
		"chats":           len(stores.Chats.GetAll()),
		"requests":        len(stores.Requests.GetAll()),
		"messages":        len(stores.Messages.GetAll()),
		"bootstrap_nodes": cfg.BootstrapNodes,
	}); err != nil {
		writeStderrln(err.Error(), exitStoreFailed)
	}
	os.Exit(exitOK)
}

func runExportBackup(args []string) {
	fs := flag.NewFlagSet("export-backup", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "veilnode data directory")
	passphrase := fs.String("passphrase", os.Getenv(passphraseEnvVar), "identity passphrase")
	out := fs.String("out", "backup.json", "backup envelope output path")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	log := obslog.New(os.Stderr)
	stores, _ := openStores(*dataDir, *passphrase)
	payload, err := backup.Export(stores, *passphrase)
	if err != nil {
		writeStderrln(err.Error(), exitStoreFailed)
		return
	}
	if err := os.WriteFile(*out, payload, 0o600); err != nil {
		writeStderrln(err.Error(), exitStoreFailed)
		return
	}
	log.Event("backup_exported", map[string]any{"out": *out, "bytes": len(payload)})
	os.Exit(exitOK)
}

func runRestoreBackup(args []string) {
	fs := flag.NewFlagSet("restore-backup", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "veilnode data directory")
	passphrase := fs.String("passphrase", os.Getenv(passphraseEnvVar), "identity passphrase")
	in := fs.String("in", "backup.json", "backup envelope input path")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	log := obslog.New(os.Stderr)
	stores, _ := openStores(*dataDir, *passphrase)
	payload, err := os.ReadFile(*in)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
		return
	}
	if err := backup.Restore(stores, payload, *passphrase); err != nil {
		writeStderrln(err.Error(), exitBadPassphrase)
		return
	}
	log.Event("backup_restored", map[string]any{"in": *in})
	os.Exit(exitOK)
}

func openStores(dataDir, passphrase string) (*storage.Stores, *identity.Manager) {
	if strings.TrimSpace(passphrase) == "" {
		writeStderrln("passphrase is required", exitInvalidInput)
	}
	stores, err := storage.NewEncryptedFileStores(dataDir, passphrase)
	if err != nil {
		writeStderrln(err.Error(), exitStoreFailed)
	}
	return stores, identity.NewManager(stores.Identity)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Fprintln(os.Stdout, "veilnode <command> [flags]")
	fmt.Fprintln(os.Stdout, "commands:")
	fmt.Fprintln(os.Stdout, "  init            --data-dir <path> --passphrase <p>")
	fmt.Fprintln(os.Stdout, "  status          --data-dir <path> --passphrase <p> [--config path]")
	fmt.Fprintln(os.Stdout, "  export-backup   --data-dir <path> --passphrase <p> [--out path]")
	fmt.Fprintln(os.Stdout, "  restore-backup  --data-dir <path> --passphrase <p> [--in path]")
}

func writeStderrln(line string, exitCode int) {
	if _, err := fmt.Fprintln(os.Stderr, line); err != nil {
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}
