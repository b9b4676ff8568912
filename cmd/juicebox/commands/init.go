package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/marmos91/juicebox/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample juicebox configuration file with a freshly
generated hash secret and admin key.

By default, the configuration file is created at
$XDG_CONFIG_HOME/juicebox/config.yaml. Use --config to specify a custom
path.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := config.GetDefaultConfig()
	hashSecret, err := randomHex(32)
	if err != nil {
		return fmt.Errorf("failed to generate hash secret: %w", err)
	}
	adminKey, err := randomHex(24)
	if err != nil {
		return fmt.Errorf("failed to generate admin key: %w", err)
	}
	cfg.HashSecret = hashSecret
	cfg.Admin.Key = adminKey
	config.ApplyDefaults(cfg)

	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nA random hash secret and admin key have been generated.")
	fmt.Println("Keep both private: the hash secret keys every fingerprint and ban,")
	fmt.Println("and the admin key gates the admin API.")
	fmt.Printf("\nStart the server with: juicebox start --config %s\n", path)
	return nil
}
