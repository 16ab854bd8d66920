// Package admin implements grantctl, the operator CLI for the grant store.
// Every command prints its result as indented JSON.
package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/grantstore/internal/common"
	"github.com/dmitrijs2005/grantstore/internal/server/cleanup"
	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

// GrantStore is the part of services.PersistedGrantStore grantctl drives.
type GrantStore interface {
	Get(ctx context.Context, key string) (models.PersistedGrant, bool, error)
	GetAll(ctx context.Context, filter models.PersistedGrantFilter) ([]models.PersistedGrant, error)
	Remove(ctx context.Context, key string) error
	RemoveAllCount(ctx context.Context, filter models.PersistedGrantFilter) (int64, error)
}

// DeviceFlowStore is the part of services.DeviceFlowStore grantctl drives.
type DeviceFlowStore interface {
	FindByDeviceCode(ctx context.Context, deviceCode string) (models.DeviceCode, bool, error)
	FindByUserCode(ctx context.Context, userCode string) (models.DeviceCode, bool, error)
	RemoveByDeviceCode(ctx context.Context, deviceCode string) error
}

// Backend is what a command needs from the database. Close is always called.
type Backend struct {
	Grants     GrantStore
	DeviceFlow DeviceFlowStore
	Migrate    func(ctx context.Context) (int64, error)
	Sweep      func(ctx context.Context, batchSize int) cleanup.Result
	Close      func()
}

// OpenOptions come from the root command flags.
type OpenOptions struct {
	// ConfigPath is the daemon JSON config; its DSN and removal sinks apply.
	ConfigPath string
	// DSN overrides the config DSN when set.
	DSN      string
	LogLevel string
}

// Opener connects the backend described by opts.
type Opener func(ctx context.Context, opts OpenOptions) (*Backend, error)

type cli struct {
	open    Opener
	opts    OpenOptions
	backend *Backend
}

// NewRootCmd builds the grantctl command tree. defaultConfig is the config
// path used when -c is not given.
func NewRootCmd(open Opener, defaultConfig string) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:           "grantctl",
		Short:         "Inspect and maintain the OAuth operational store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			b, err := c.open(cmd.Context(), c.opts)
			if err != nil {
				return err
			}
			c.backend = b
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.close()
		},
	}
	root.PersistentFlags().StringVarP(&c.opts.ConfigPath, "config", "c", defaultConfig, "daemon JSON config (DSN, removal sinks, cleanup lock)")
	root.PersistentFlags().StringVarP(&c.opts.DSN, "dsn", "d", "", "PostgreSQL DSN, overrides the config")
	root.PersistentFlags().StringVarP(&c.opts.LogLevel, "log-level", "l", "warn", "log level written to stderr")

	root.AddCommand(
		c.migrateCmd(),
		c.grantsCmd(),
		c.deviceCodesCmd(),
		c.cleanupCmd(),
	)
	return root
}

func (c *cli) close() {
	if c.backend != nil && c.backend.Close != nil {
		c.backend.Close()
	}
	c.backend = nil
}

// runE wraps a command body so the backend is released on failure too;
// cobra skips PersistentPostRun when RunE returns an error.
func (c *cli) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			c.close()
			return err
		}
		return nil
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func notFound(what, key string) error {
	return fmt.Errorf("%w: %s %q", common.ErrorNotFound, what, key)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: c.runE(func(cmd *cobra.Command, _ []string) error {
			version, err := c.backend.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"version": version})
		}),
	}
}

func addFilterFlags(cmd *cobra.Command, f *models.PersistedGrantFilter) {
	cmd.Flags().StringVar(&f.SubjectID, "subject", "", "subject id")
	cmd.Flags().StringVar(&f.SessionID, "session", "", "session id")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&f.Type, "type", "", "grant type")
}

func (c *cli) grantsCmd() *cobra.Command {
	grants := &cobra.Command{
		Use:   "grants",
		Short: "Persisted grants",
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Show one grant",
		Args:  cobra.ExactArgs(1),
		RunE: c.runE(func(cmd *cobra.Command, args []string) error {
			g, ok, err := c.backend.Grants.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return notFound("grant", args[0])
			}
			return printJSON(cmd, g)
		}),
	}

	var listFilter models.PersistedGrantFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List grants matching every given filter flag",
		Args:  cobra.NoArgs,
		RunE: c.runE(func(cmd *cobra.Command, _ []string) error {
			out, err := c.backend.Grants.GetAll(cmd.Context(), listFilter)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		}),
	}
	addFilterFlags(list, &listFilter)

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete one grant; deleting an absent key succeeds",
		Args:  cobra.ExactArgs(1),
		RunE: c.runE(func(cmd *cobra.Command, args []string) error {
			if err := c.backend.Grants.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"deleted": args[0]})
		}),
	}

	var delFilter models.PersistedGrantFilter
	delAll := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete grants matching every given filter flag",
		Args:  cobra.NoArgs,
		RunE: c.runE(func(cmd *cobra.Command, _ []string) error {
			n, err := c.backend.Grants.RemoveAllCount(cmd.Context(), delFilter)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"removed": n})
		}),
	}
	addFilterFlags(delAll, &delFilter)

	grants.AddCommand(get, list, del, delAll)
	return grants
}

func (c *cli) deviceCodesCmd() *cobra.Command {
	codes := &cobra.Command{
		Use:     "devicecodes",
		Aliases: []string{"device-codes"},
		Short:   "Pending device authorizations",
	}

	var byUserCode bool
	get := &cobra.Command{
		Use:   "get <code>",
		Short: "Show a device authorization by device code, or by user code with --user-code",
		Args:  cobra.ExactArgs(1),
		RunE: c.runE(func(cmd *cobra.Command, args []string) error {
			find := c.backend.DeviceFlow.FindByDeviceCode
			if byUserCode {
				find = c.backend.DeviceFlow.FindByUserCode
			}
			dc, ok, err := find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return notFound("device code", args[0])
			}
			return printJSON(cmd, dc)
		}),
	}
	get.Flags().BoolVarP(&byUserCode, "user-code", "u", false, "treat the argument as a user code")

	remove := &cobra.Command{
		Use:   "remove <device-code>",
		Short: "Remove a device authorization; removing an absent code succeeds",
		Args:  cobra.ExactArgs(1),
		RunE: c.runE(func(cmd *cobra.Command, args []string) error {
			if err := c.backend.DeviceFlow.RemoveByDeviceCode(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"removed": args[0]})
		}),
	}

	codes.AddCommand(get, remove)
	return codes
}

func (c *cli) cleanupCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one sweep of expired grants and device codes, notifying the configured sinks",
		Args:  cobra.NoArgs,
		RunE: c.runE(func(cmd *cobra.Command, _ []string) error {
			res := c.backend.Sweep(cmd.Context(), batchSize)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			return res.Err
		}),
	}
	cmd.Flags().IntVarP(&batchSize, "batch-size", "n", 0, "rows deleted per transaction (0 uses the configured size)")
	return cmd
}
