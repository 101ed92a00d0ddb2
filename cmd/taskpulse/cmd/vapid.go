package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"

	"github.com/brianly1003/taskpulse/internal/secrets"
)

var vapidEncrypt bool

// vapidCmd groups the VAPID key helpers.
var vapidCmd = &cobra.Command{
	Use:   "vapid",
	Short: "Manage VAPID keys for Web Push",
}

var vapidGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a VAPID key pair",
	Long: `Generate a new VAPID key pair and print it as environment variables.

With --encrypt the private key is sealed with the key configured in
VAPID_ENCRYPTION_KEY, VAPID_ENCRYPTION_PASSWORD or VAPID_ENCRYPTION_KEY_FILE
and printed as VAPID_PRIVATE_KEY_ENCRYPTED.`,
	RunE: runVAPIDGenerate,
}

var vapidEncryptCmd = &cobra.Command{
	Use:   "encrypt [value]",
	Short: "Encrypt a secret value",
	Long: `Encrypt a value for storage under <NAME>_ENCRYPTED.

The value is read from the argument, or from stdin when omitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVAPIDEncrypt,
}

func init() {
	vapidCmd.AddCommand(vapidGenerateCmd)
	vapidCmd.AddCommand(vapidEncryptCmd)

	vapidGenerateCmd.Flags().BoolVar(&vapidEncrypt, "encrypt", false, "print the private key encrypted")
}

func runVAPIDGenerate(cmd *cobra.Command, args []string) error {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("failed to generate VAPID keys: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "VAPID_PUBLIC_KEY=%s\n", publicKey)

	if !vapidEncrypt {
		fmt.Fprintf(out, "VAPID_PRIVATE_KEY=%s\n", privateKey)
		return nil
	}

	sealed, err := encryptValue(privateKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "VAPID_PRIVATE_KEY%s=%s\n", secrets.DefaultEncryptedSuffix, sealed)
	return nil
}

func runVAPIDEncrypt(cmd *cobra.Command, args []string) error {
	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		v, err := readValue(cmd.InOrStdin())
		if err != nil {
			return err
		}
		value = v
	}
	if value == "" {
		return fmt.Errorf("nothing to encrypt")
	}

	sealed, err := encryptValue(value)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return nil
}

func encryptValue(plaintext string) (string, error) {
	key, err := secrets.KeyConfigFromEnv(os.LookupEnv).LoadKey()
	if err != nil {
		return "", err
	}
	return secrets.Encrypt(plaintext, key)
}

func readValue(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read value: %w", err)
	}
	return strings.TrimSpace(line), nil
}
