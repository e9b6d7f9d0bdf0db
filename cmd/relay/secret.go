package relay

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/igorsilveira/relay/pkg/audit"
	"github.com/igorsilveira/relay/pkg/config"
	"github.com/igorsilveira/relay/pkg/secrets"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage encrypted channel tokens",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <name> [value]",
	Short: "Store a secret; the value is read from stdin when omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSecretSet,
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secret names",
	Args:  cobra.NoArgs,
	RunE:  runSecretList,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretDelete,
}

func init() {
	secretCmd.AddCommand(secretSetCmd, secretListCmd, secretDeleteCmd)
}

type secretEnv struct {
	db      *gorm.DB
	secrets *secrets.Store
	audit   *audit.Logger
}

func (e *secretEnv) Close() {
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func openSecrets(cfg *config.Config) (*secretEnv, error) {
	keyEnv := cfg.Credentials.MasterKeyEnv
	masterKey := os.Getenv(keyEnv)
	if masterKey == "" {
		return nil, fmt.Errorf("%s is not set", keyEnv)
	}

	if err := config.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := audit.OpenDB(cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	env := &secretEnv{db: db}

	if env.secrets, err = secrets.New(db, masterKey); err != nil {
		env.Close()
		return nil, err
	}
	if env.audit, err = audit.New(db); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		fmt.Fprintf(os.Stderr, "value for %s: ", name)
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading value: %w", err)
		}
		value = line
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("secret value must not be empty")
	}

	env, err := openSecrets(config.Current())
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	if err := env.secrets.Set(ctx, name, value); err != nil {
		return err
	}
	_ = env.audit.Log(ctx, audit.EventSecretSet, "", "", "cli", name)

	fmt.Printf("Stored secret %q\n", name)
	return nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	env, err := openSecrets(config.Current())
	if err != nil {
		return err
	}
	defer env.Close()

	names, err := env.secrets.List(context.Background())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	env, err := openSecrets(config.Current())
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	if err := env.secrets.Delete(ctx, args[0]); err != nil {
		return err
	}
	_ = env.audit.Log(ctx, audit.EventSecretDel, "", "", "cli", args[0])

	fmt.Printf("Deleted secret %q\n", args[0])
	return nil
}
