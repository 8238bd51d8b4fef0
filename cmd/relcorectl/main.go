// Command relcorectl is an offline maintenance tool for a relcore data
// directory. It is not a SQL front-end: it drives the storage engine
// directly, for initializing a fresh data directory, forcing a recovery
// pass, and inspecting table contents.
package main

import (
	"fmt"
	"os"

	"github.com/relcore/relcore/internal/storage"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	logger  storage.LogConfig
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relcorectl",
	Short: "relcorectl manages a relcore storage data directory",
	Long: `relcorectl is an offline maintenance tool for a relcore data
directory: initializing tables from a YAML config, replaying the
write-ahead log, and inspecting table contents. It does not accept SQL
and does not run a server.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "relcore.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(inspectCmd)
}

func buildLogger(cmd *cobra.Command) storage.LogConfig {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOut, _ := cmd.Flags().GetBool("log-json")
	return storage.LogConfig{Level: storage.Level(level), JSONOutput: jsonOut}
}

// openEngine loads cfgPath, wires every layer in construction order
// (File -> Buffer -> Lock -> WAL -> Transaction -> Storage), and
// registers every configured table. It does not run recovery; callers
// that need recovery call engine.Recover() themselves.
func openEngine(cmd *cobra.Command) (*storage.StorageEngine, *storage.TransactionManager, error) {
	cfg, err := storage.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	logCfg := buildLogger(cmd)
	if !cmd.Flags().Changed("log-level") && cfg.Log.Level != "" {
		logCfg.Level = storage.Level(cfg.Log.Level)
	}
	if !cmd.Flags().Changed("log-json") {
		logCfg.JSONOutput = cfg.Log.JSON
	}
	log := storage.NewLogger(logCfg)

	fm := storage.NewFileManager()
	bm := storage.NewBufferManager(fm, cfg.BufferPool.Frames)
	lm := storage.NewLockManager()

	walPath := cfg.DataDir + "/wal.log"
	wal, err := storage.OpenWALManager(walPath)
	if err != nil {
		return nil, nil, err
	}

	txMgr := storage.NewTransactionManager()
	engine := storage.NewStorageEngine(cfg.DataDir, bm, lm, wal, txMgr, log)

	for _, tc := range cfg.Tables {
		schema, pkIndex, err := tc.Schema()
		if err != nil {
			return nil, nil, err
		}
		if err := engine.RegisterTable(tc.Name, schema, pkIndex); err != nil {
			return nil, nil, fmt.Errorf("register table %q: %w", tc.Name, err)
		}
	}

	return engine, txMgr, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a fresh data directory and register configured tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, err := openEngine(cmd)
		if err != nil {
			return err
		}
		fmt.Println("data directory initialized")
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Replay the write-ahead log and rebuild indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, err := openEngine(cmd)
		if err != nil {
			return err
		}
		if err := engine.Recover(); err != nil {
			return fmt.Errorf("recover: %w", err)
		}
		fmt.Println("recovery complete")
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect TABLE",
	Short: "List every live row of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tableName := args[0]
		engine, txMgr, err := openEngine(cmd)
		if err != nil {
			return err
		}
		tx := txMgr.Begin()
		rids, err := engine.ScanTable(tx, tableName)
		if err != nil {
			return err
		}
		for _, rid := range rids {
			values, err := engine.GetRecord(tableName, rid)
			if err != nil {
				return err
			}
			fmt.Printf("(%d,%d): %v\n", rid.PageNo, rid.SlotNo, values)
		}
		return engine.Commit(tx)
	},
}
