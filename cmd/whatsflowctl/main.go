// Command whatsflowctl drives a WhatsFlow server from the terminal.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}

func newRootCmd() *cobra.Command {
	var (
		serverURL string
		token     string
	)

	root := &cobra.Command{
		Use:          "whatsflowctl",
		Short:        "Operate a WhatsFlow server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "url", envOr("WHATSFLOW_URL", "http://localhost:2121"), "server base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("WHATSFLOW_TOKEN"), "bearer token")

	client := func() *APIClient { return NewAPIClient(serverURL, token) }

	// jsonCmd wraps calls whose answer is printed as-is.
	jsonCmd := func(use, short string, args cobra.PositionalArgs, call func(args []string) (json.RawMessage, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				raw, err := call(args)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), raw)
			},
		}
	}

	root.AddCommand(
		jsonCmd("health", "Show instance counts and uptime", cobra.NoArgs, func(args []string) (json.RawMessage, error) {
			return client().Health()
		}),
		jsonCmd("status [instance-id]", "Show one instance or all of them", cobra.MaximumNArgs(1), func(args []string) (json.RawMessage, error) {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return client().Status(id)
		}),
		jsonCmd("list", "List instances", cobra.NoArgs, func(args []string) (json.RawMessage, error) {
			return client().Instances()
		}),
		jsonCmd("connect <instance-id>", "Start connecting an instance", cobra.ExactArgs(1), func(args []string) (json.RawMessage, error) {
			return client().Connect(args[0])
		}),
		jsonCmd("delete <instance-id>", "Delete an instance and its credentials", cobra.ExactArgs(1), func(args []string) (json.RawMessage, error) {
			return client().Delete(args[0])
		}),
		jsonCmd("send <instance-id> <to> <message>", "Send a text message", cobra.ExactArgs(3), func(args []string) (json.RawMessage, error) {
			return client().Send(args[0], args[1], args[2])
		}),
	)

	var name string
	createCmd := &cobra.Command{
		Use:   "create [instance-id]",
		Short: "Create an instance (id generated when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			raw, err := client().Create(name, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "display name")

	var logout bool
	disconnectCmd := &cobra.Command{
		Use:   "disconnect <instance-id>",
		Short: "Disconnect an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := client().Disconnect(args[0], logout)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	disconnectCmd.Flags().BoolVar(&logout, "logout", false, "also unlink the device and remove credentials")

	var raw bool
	qrCmd := &cobra.Command{
		Use:   "qr <instance-id>",
		Short: "Print the pending pairing code as a terminal QR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answer, err := client().QR(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case answer.Connected:
				fmt.Fprintf(out, "%s is already connected\n", answer.InstanceID)
				return nil
			case answer.QR == nil:
				fmt.Fprintf(out, "no pairing code for %s yet, run connect and retry\n", answer.InstanceID)
				return nil
			}
			if raw {
				fmt.Fprintln(out, *answer.QR)
				return nil
			}
			code, err := qrcode.New(*answer.QR, qrcode.Low)
			if err != nil {
				return err
			}
			fmt.Fprint(out, code.ToSmallString(false))
			fmt.Fprintf(out, "expires in %ds\n", answer.ExpiresIn)
			return nil
		},
	}
	qrCmd.Flags().BoolVar(&raw, "raw", false, "print the token instead of a QR")

	root.AddCommand(createCmd, disconnectCmd, qrCmd)
	return root
}
