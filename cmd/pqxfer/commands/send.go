package commands

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/opd-ai/pqxfer/transfer"
)

// send <host:port> <file>: transfer a file to a listening receiver.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <host:port> <file>",
		Short: "Send a file to a listening receiver",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, path := args[0], args[1]

			identity, err := loadIdentity()
			if err != nil {
				return err
			}
			defer identity.Destroy()

			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", addr, err)
			}

			channel := transfer.NewConnChannel(conn)
			sender, err := transfer.NewSender(channel, path, transfer.Config{
				Identity:  identity,
				ChunkSize: chunkSize,
				Compress:  compress,
			})
			if err != nil {
				return err
			}

			sender.OnProgress(func(p transfer.Progress) {
				printProgress(p.TransferredBytes, p.TotalBytes, p.Speed)
			})

			channel.Start()
			if err := sender.Start(); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "sending %s to %s\n", path, addr)
			err = sender.Wait()
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "done (session %s)\n", sender.Fingerprint())
			return nil
		},
	}
}
