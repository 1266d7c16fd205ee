// cmd/statectl is the operator CLI, built with Cobra. It opens a store
// directly on local disk and stages a single-key update per invocation —
// a convenient way to poke at a partition's data during development
// without wiring up a real streaming job.
//
// Usage:
//
//	statectl put 0 0 5 mykey "hello world"     --data-dir /tmp/statestore
//	statectl get 0 0 5 mykey                   --data-dir /tmp/statestore
//	statectl rm 0 0 5 mykey                    --data-dir /tmp/statestore
//	statectl iterate 0 0 5                     --data-dir /tmp/statestore
//	statectl serve-admin                       --data-dir /tmp/statestore --admin-addr :8090
//	statectl info 0 0                          --admin http://localhost:8090
//
// --admin proxies the info command through a running statestored's admin
// HTTP surface instead of opening the store directly; every other command
// always operates on --data-dir in-process.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/streamkv/statestore/internal/adminapi"
	"github.com/streamkv/statestore/internal/coordinator"
	"github.com/streamkv/statestore/internal/layout"
	"github.com/streamkv/statestore/internal/registry"
	"github.com/streamkv/statestore/internal/store"
)

var (
	dataDir   string
	adminAddr string
	adminURL  string
)

func main() {
	root := &cobra.Command{
		Use:   "statectl",
		Short: "Operator CLI for a local state store data directory",
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "/tmp/statestore", "Root directory for all partitions")
	root.PersistentFlags().StringVar(&adminURL, "admin", "", "Base URL of a running statestored admin server, used by the info command")

	root.AddCommand(putCmd(), getCmd(), rmCmd(), commitCmd(), iterateCmd(), serveAdminCmd(), infoCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseStoreArgs(args []string) (layout.StoreId, layout.Version, error) {
	opID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return layout.StoreId{}, 0, fmt.Errorf("invalid operatorId %q: %w", args[0], err)
	}
	partID, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return layout.StoreId{}, 0, fmt.Errorf("invalid partitionId %q: %w", args[1], err)
	}
	version, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return layout.StoreId{}, 0, fmt.Errorf("invalid version %q: %w", args[2], err)
	}
	return layout.StoreId{OperatorId: opID, PartitionId: int32(partID)}, layout.Version(version), nil
}

func openStore(id layout.StoreId) (*store.Store, error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	return store.Open(dataDir, id, store.DefaultConfig(), log)
}

// ─── put ────────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <operatorId> <partitionId> <version> <key> <value>",
		Short: "Stage and commit a single key update as a new version",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, v, err := parseStoreArgs(args[:3])
			if err != nil {
				return err
			}
			s, err := openStore(id)
			if err != nil {
				return err
			}
			session := s.NewSession()
			if err := session.Prepare(v); err != nil {
				return err
			}
			if err := session.Update([]byte(args[3]), func([]byte, bool) []byte { return []byte(args[4]) }); err != nil {
				_ = session.Reset()
				return err
			}
			if err := session.Commit(); err != nil {
				_ = session.Reset()
				return err
			}
			fmt.Printf("committed version %d\n", v)
			return nil
		},
	}
}

// ─── get ────────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <operatorId> <partitionId> <version> <key>",
		Short: "Look up a single key at a committed version",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, v, err := parseStoreArgs(args[:3])
			if err != nil {
				return err
			}
			s, err := openStore(id)
			if err != nil {
				return err
			}
			it, err := s.Iterator(v)
			if err != nil {
				return err
			}
			key := []byte(args[3])
			for rec, err := range it {
				if err != nil {
					return err
				}
				if bytes.Equal(rec.Key, key) {
					fmt.Println(string(rec.Value))
					return nil
				}
			}
			fmt.Printf("key %q not found at version %d\n", args[3], v)
			return nil
		},
	}
}

// ─── rm ─────────────────────────────────────────────────────────────────────

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <operatorId> <partitionId> <version> <key>",
		Short: "Stage and commit a single key removal as a new version",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, v, err := parseStoreArgs(args[:3])
			if err != nil {
				return err
			}
			s, err := openStore(id)
			if err != nil {
				return err
			}
			session := s.NewSession()
			if err := session.Prepare(v); err != nil {
				return err
			}
			target := []byte(args[3])
			if err := session.Remove(func(key []byte) bool { return bytes.Equal(key, target) }); err != nil {
				_ = session.Reset()
				return err
			}
			if err := session.Commit(); err != nil {
				_ = session.Reset()
				return err
			}
			fmt.Printf("committed version %d\n", v)
			return nil
		},
	}
}

// ─── commit (stage no changes, just bump the version) ──────────────────────

func commitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <operatorId> <partitionId> <version>",
		Short: "Commit an empty version with no changes from its predecessor",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, v, err := parseStoreArgs(args)
			if err != nil {
				return err
			}
			s, err := openStore(id)
			if err != nil {
				return err
			}
			session := s.NewSession()
			if err := session.Prepare(v); err != nil {
				return err
			}
			if err := session.Commit(); err != nil {
				_ = session.Reset()
				return err
			}
			fmt.Printf("committed version %d\n", v)
			return nil
		},
	}
}

// ─── iterate ────────────────────────────────────────────────────────────────

func iterateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "iterate <operatorId> <partitionId> [version]",
		Short: "Print every key/value at a version (or the latest committed version)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid operatorId %q: %w", args[0], err)
			}
			partID, err := strconv.ParseInt(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid partitionId %q: %w", args[1], err)
			}
			id := layout.StoreId{OperatorId: opID, PartitionId: int32(partID)}
			s, err := openStore(id)
			if err != nil {
				return err
			}

			if len(args) == 3 {
				version, err := strconv.ParseInt(args[2], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[2], err)
				}
				it, err := s.Iterator(layout.Version(version))
				if err != nil {
					return err
				}
				for rec, err := range it {
					if err != nil {
						return err
					}
					fmt.Printf("%s=%s\n", rec.Key, rec.Value)
				}
				return nil
			}

			it, err := s.LatestIterator()
			if err != nil {
				return err
			}
			for rec, err := range it {
				if err != nil {
					return err
				}
				fmt.Printf("%s=%s\n", rec.Key, rec.Value)
			}
			return nil
		},
	}
}

// ─── serve-admin ────────────────────────────────────────────────────────────

func serveAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-admin",
		Short: "Start the read-only admin HTTP surface over this data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			cfg := store.DefaultConfig()
			reg := registry.New(dataDir, cfg, coordinator.Noop{}, coordinator.StaticIdentity{HostValue: "local", ExecutorIDValue: "statectl"}, log)

			gin.SetMode(gin.ReleaseMode)
			router := gin.New()
			router.Use(adminapi.Logger(log), adminapi.Recovery(log))
			adminapi.NewHandler(reg).Register(router)

			log.Info().Str("addr", adminAddr).Msg("admin server listening")
			return router.Run(adminAddr)
		},
	}
	cmd.Flags().StringVar(&adminAddr, "admin-addr", ":8090", "Listen address for the admin HTTP surface")
	return cmd
}

// ─── info ───────────────────────────────────────────────────────────────────

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <operatorId> <partitionId>",
		Short: "Print a running statestored's summary for one store (requires --admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminURL == "" {
				return fmt.Errorf("info requires --admin <base-url>")
			}
			out, err := fetchJSON(cmd.Context(), fmt.Sprintf("/stores/%s/%s", args[0], args[1]))
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func fetchJSON(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, adminURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
