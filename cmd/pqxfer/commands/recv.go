package commands

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opd-ai/pqxfer/storage"
	"github.com/opd-ai/pqxfer/transfer"
)

// recv <listen-addr>: accept one incoming transfer.
func recvCmd() *cobra.Command {
	var (
		downloadDir string
		autoAccept  bool
	)

	cmd := &cobra.Command{
		Use:   "recv <listen-addr>",
		Short: "Listen for one incoming transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.OpenBoltStore(filepath.Join(home, "transfers.db"))
			if err != nil {
				return err
			}
			defer store.Close()

			listener, err := net.Listen("tcp", args[0])
			if err != nil {
				return fmt.Errorf("listening on %s: %w", args[0], err)
			}
			defer listener.Close()
			fmt.Fprintf(os.Stderr, "listening on %s\n", listener.Addr())

			conn, err := listener.Accept()
			if err != nil {
				return err
			}

			channel := transfer.NewConnChannel(conn)
			receiver := transfer.NewReceiver(channel, transfer.Config{
				Store:       store,
				DownloadDir: downloadDir,
			})

			receiver.OnOffer(func(offer transfer.Offer) bool {
				fmt.Fprintf(os.Stderr, "incoming: %s (%s, %d chunks)\n",
					offer.FileName, humanBytes(offer.FileSize), offer.ChunkCount)
				fmt.Fprintf(os.Stderr, "session fingerprint: %s\n", offer.Fingerprint)
				if offer.Resuming {
					fmt.Fprintf(os.Stderr, "resuming: %d of %d chunks already on disk\n",
						offer.ChunksHeld, offer.ChunkCount)
				}
				if autoAccept {
					return true
				}
				return confirm("accept? [y/N] ")
			})
			receiver.OnProgress(func(p transfer.Progress) {
				printProgress(p.TransferredBytes, p.TotalBytes, p.Speed)
			})

			receiver.Start()
			channel.Start()

			err = receiver.Wait()
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "saved %s\n", receiver.Path())
			return nil
		},
	}

	cmd.Flags().StringVarP(&downloadDir, "out", "o", ".", "directory to save into")
	cmd.Flags().BoolVarP(&autoAccept, "yes", "y", false, "accept without prompting")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
