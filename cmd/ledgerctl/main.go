// Command ledgerctl inspects, verifies and archives the cultivation ledger
// held by the configured block store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"growpod/internal/blob"
	"growpod/internal/config"
	"growpod/internal/core"
	"growpod/internal/ledger"
	"growpod/internal/logging"
)

var exitFunc = os.Exit

// errIntegrity marks a verification that completed and found tampering.
var errIntegrity = errors.New("ledger integrity compromised")

func main() {
	exitFunc(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(config.NewViper())
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errIntegrity) {
			return 2
		}
		return 1
	}
	return 0
}

type app struct {
	v          *viper.Viper
	configFile string
	asJSON     bool
	cfg        config.Config
	logger     zerolog.Logger
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	a := &app{v: v}
	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Inspect and verify the growpod cultivation ledger",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v, a.configFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Config file (yaml, toml or json)")
	flags.BoolVar(&a.asJSON, "json", false, "Emit JSON instead of text")
	bind := map[string]string{
		"ledger-driver": "ledger.driver",
		"leveldb-path":  "ledger.leveldb_path",
		"storage":       "storage.driver",
		"sqlite-path":   "storage.sqlite_path",
		"postgres-dsn":  "storage.postgres_dsn",
		"blob-driver":   "blob.driver",
		"blob-root":     "blob.fs_root",
		"log-level":     "log.level",
	}
	flags.String("ledger-driver", "", "Block store: memory, leveldb, sqlite or postgres")
	flags.String("leveldb-path", "", "LevelDB directory for the leveldb block store")
	flags.String("storage", "", "Registry driver: memory, sqlite or postgres")
	flags.String("sqlite-path", "", "SQLite database file")
	flags.String("postgres-dsn", "", "Postgres connection string")
	flags.String("blob-driver", "", "Archive store: fs, s3 or memory")
	flags.String("blob-root", "", "Root directory for the fs archive store")
	flags.String("log-level", "", "Log level")
	for flag, key := range bind {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.infoCmd(),
		a.verifyCmd(),
		a.historyCmd(),
		a.exportCmd(),
		a.verifyExportCmd(),
	)
	return root
}

func (a *app) openChain(ctx context.Context) (*ledger.Chain, func(), error) {
	backend, err := core.OpenBlockStore(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	chain, err := ledger.Load(ctx, backend.Blocks, ledger.WithLogger(a.logger))
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return chain, func() { _ = backend.Close() }, nil
}

func (a *app) emit(w io.Writer, v any, text func(io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show chain length, tail hash and validity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			chain, closeFn, err := a.openChain(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			info := chain.Info()
			return a.emit(cmd.OutOrStdout(), info, func(w io.Writer) {
				fmt.Fprintf(w, "Blocks\t%s\n", humanize.Comma(int64(info.TotalBlocks)))
				fmt.Fprintf(w, "Valid\t%t\n", info.IsValid)
				fmt.Fprintf(w, "Latest block\t%d\n", info.LatestBlockNumber)
				fmt.Fprintf(w, "Latest hash\t%s\n", info.LatestHash)
				fmt.Fprintf(w, "Latest timestamp\t%s (%s)\n", info.LatestTimestamp.Format("2006-01-02T15:04:05Z07:00"), humanize.Time(info.LatestTimestamp))
			})
		},
	}
}

func reportError(report ledger.Report) error {
	if report.Valid {
		return nil
	}
	return fmt.Errorf("%w at block %d: %s", errIntegrity, report.FailedAt, report.Reason)
}

func (a *app) printReport(cmd *cobra.Command, report ledger.Report) error {
	if err := a.emit(cmd.OutOrStdout(), report, func(w io.Writer) {
		if report.Valid {
			fmt.Fprintf(w, "OK\t%s blocks verified\n", humanize.Comma(int64(report.Blocks)))
			return
		}
		fmt.Fprintf(w, "FAILED\tblock %d of %s: %s\n", report.FailedAt, humanize.Comma(int64(report.Blocks)), report.Reason)
	}); err != nil {
		return err
	}
	return reportError(report)
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-hash every block and check the linkage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			chain, closeFn, err := a.openChain(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return a.printReport(cmd, chain.VerifyReport())
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List the blocks recorded for a plant or pod, or of one record type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && kind == "" {
				return errors.New("history needs an id or --type")
			}
			chain, closeFn, err := a.openChain(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			var blocks []ledger.Block
			if len(args) == 1 {
				blocks = chain.RecordsFor(args[0])
			} else {
				blocks = chain.RecordsOfType(ledger.RecordKind(kind))
			}
			if len(args) == 1 && kind != "" {
				filtered := blocks[:0]
				for _, b := range blocks {
					if b.Payload.Kind == ledger.RecordKind(kind) {
						filtered = append(filtered, b)
					}
				}
				blocks = filtered
			}
			return a.emit(cmd.OutOrStdout(), blocks, func(w io.Writer) {
				fmt.Fprintln(w, "BLOCK\tTYPE\tID\tRECORDED\tDATA")
				for _, b := range blocks {
					data, _ := json.Marshal(b.Payload.Data)
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
						b.Number, b.Payload.Kind, b.Payload.SubjectID,
						humanize.Time(b.Payload.RecordedAt), data)
				}
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "Only blocks of this record type ("+strings.Join(recordKinds(), ", ")+")")
	return cmd
}

func recordKinds() []string {
	return []string{string(ledger.KindPlantData), string(ledger.KindEnvironmentalData), string(ledger.KindHarvest)}
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Archive the chain to the configured blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			chain, closeFn, err := a.openChain(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			store, err := blob.Open(ctx, a.cfg.Blob)
			if err != nil {
				return err
			}
			info, err := ledger.Export(ctx, chain, store)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), info, func(w io.Writer) {
				fmt.Fprintf(w, "Key\t%s\n", info.Key)
				fmt.Fprintf(w, "Size\t%s\n", humanize.Bytes(uint64(info.Size)))
				fmt.Fprintf(w, "Driver\t%s\n", store.Driver())
			})
		},
	}
}

func (a *app) verifyExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-export <key>",
		Short: "Verify an archived chain offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := blob.Open(ctx, a.cfg.Blob)
			if err != nil {
				return err
			}
			report, err := ledger.VerifyArchive(ctx, store, args[0])
			if err != nil {
				return err
			}
			return a.printReport(cmd, report)
		},
	}
}
