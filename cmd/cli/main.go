// Command cli is a small command-line harness for exercising a database
// file directly, mirroring the original implementation's bin/btree_cli.
//
// Usage:
//
//	cli <db_path> put <key> <value>
//	cli <db_path> get <key>
//	cli <db_path> delete <key>
//	cli <db_path> scan [start] [end]
//	cli <db_path> stats
//	cli <db_path> bulk_insert <count>
//	cli <db_path> debug <key>
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/intellect4all/btreestore/btree"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: cli <db_path> <command> [args...]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  put <key> <value>   - Insert or update a key-value pair")
	fmt.Fprintln(os.Stderr, "  get <key>           - Get value for a key")
	fmt.Fprintln(os.Stderr, "  delete <key>        - Delete a key")
	fmt.Fprintln(os.Stderr, "  scan [start] [end]  - Scan keys in range")
	fmt.Fprintln(os.Stderr, "  stats               - Show database statistics")
	fmt.Fprintln(os.Stderr, "  bulk_insert <count> - Insert count test records")
	fmt.Fprintln(os.Stderr, "  debug <key>         - Trace the descent path for a key")
}

func main() {
	args := os.Args
	if len(args) < 3 {
		usage()
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	dbPath := args[1]
	command := args[2]

	db, err := btree.Open(btree.DefaultConfig(dbPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to open database: %v\n", err)
		os.Exit(1)
	}

	if err := run(db, command, args[3:]); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		if flushErr := db.Flush(); flushErr != nil {
			logger.Warn("failed to flush on error exit", zap.Error(flushErr))
		}
		os.Exit(1)
	}

	if err := db.Flush(); err != nil {
		logger.Warn("failed to flush", zap.Error(err))
	}
}

func run(db *btree.BTree, command string, rest []string) error {
	switch command {
	case "put":
		if len(rest) < 2 {
			usage()
			os.Exit(1)
		}
		if err := db.Put([]byte(rest[0]), []byte(rest[1])); err != nil {
			return err
		}
		fmt.Println("OK")

	case "get":
		if len(rest) < 1 {
			usage()
			os.Exit(1)
		}
		value, found, err := db.Get([]byte(rest[0]))
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("NOT_FOUND")
			return nil
		}
		fmt.Println(string(value))

	case "delete":
		if len(rest) < 1 {
			usage()
			os.Exit(1)
		}
		deleted, err := db.Delete([]byte(rest[0]))
		if err != nil {
			return err
		}
		if deleted {
			fmt.Println("DELETED")
		} else {
			fmt.Println("NOT_FOUND")
		}

	case "scan":
		var start, end []byte
		if len(rest) > 0 {
			start = []byte(rest[0])
		}
		if len(rest) > 1 {
			end = []byte(rest[1])
		}
		results, err := db.Range(start, end)
		if err != nil {
			return err
		}
		fmt.Printf("COUNT: %d\n", len(results))
		for _, kv := range results {
			fmt.Printf("%s -> %s\n", kv.Key, kv.Value)
		}

	case "stats":
		stats := db.Stats()
		fmt.Printf("page_count: %d\n", stats.PageCount)
		fmt.Printf("buffer_pool_size: %d\n", stats.BufferPoolSize)
		fmt.Printf("tree_height: %d\n", stats.TreeHeight)

	case "bulk_insert":
		if len(rest) < 1 {
			usage()
			os.Exit(1)
		}
		count, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid count: %w", err)
		}

		start := time.Now()
		for i := 0; i < count; i++ {
			key := fmt.Sprintf("key_%08d", i)
			value := fmt.Sprintf("value_%d", i)
			if err := db.Put([]byte(key), []byte(value)); err != nil {
				return fmt.Errorf("at %d: %w", i, err)
			}
		}
		elapsed := time.Since(start)

		if err := db.Flush(); err != nil {
			return fmt.Errorf("flushing: %w", err)
		}

		opsPerSec := float64(count) / elapsed.Seconds()
		fmt.Printf("INSERTED: %d\n", count)
		fmt.Printf("TIME_MS: %d\n", elapsed.Milliseconds())
		fmt.Printf("OPS_PER_SEC: %.0f\n", opsPerSec)

	case "debug":
		if len(rest) < 1 {
			usage()
			os.Exit(1)
		}
		trace, err := db.DebugGet([]byte(rest[0]))
		if err != nil {
			return err
		}
		for _, line := range trace {
			fmt.Println(line)
		}

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}
