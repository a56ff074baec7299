// Package commands implements the pqxfer command line interface.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/pqxfer/crypto"
)

var (
	home      string
	verbose   bool
	chunkSize int
	compress  bool
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:   "pqxfer",
		Short: "Secure resumable file transfer with post-quantum encryption",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}

			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".pqxfer")
			}
			return os.MkdirAll(home, 0o700)
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.pqxfer)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in bytes (64KiB to 4MiB)")
	root.PersistentFlags().BoolVar(&compress, "compress", false, "compress chunks that shrink")

	root.AddCommand(sendCmd(), recvCmd())
	return root.Execute()
}

// loadIdentity loads the long-term identity key, creating it on first
// use.
func loadIdentity() (*crypto.Identity, error) {
	path := filepath.Join(home, "identity.key")

	seed, err := os.ReadFile(path)
	if err == nil {
		return crypto.IdentityFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading identity key: %w", err)
	}

	identity, err := crypto.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, identity.Seed(), 0o600); err != nil {
		identity.Destroy()
		return nil, fmt.Errorf("saving identity key: %w", err)
	}
	fmt.Fprintf(os.Stderr, "generated new identity at %s\n", path)
	return identity, nil
}

// printProgress renders a single-line progress indicator.
func printProgress(transferred, total uint64, speed float64) {
	percent := 100.0
	if total > 0 {
		percent = float64(transferred) / float64(total) * 100
	}
	fmt.Fprintf(os.Stderr, "\r%6.2f%%  %s / %s  %s/s   ",
		percent, humanBytes(transferred), humanBytes(total), humanBytes(uint64(speed)))
}

func humanBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
