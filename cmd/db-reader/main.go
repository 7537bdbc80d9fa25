package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Offline inspection of the engine's Badger store. Keys follow the
// engine's layout: engine/rounds/<id>, engine/tickets/<round>/<uuid>,
// engine/rounds/latest.

type DBReader struct {
	db *badger.DB
}

func NewDBReader(dbPath string) (*DBReader, error) {
	opts := badger.DefaultOptions(dbPath).WithLogger(nil)
	opts.ReadOnly = true

	db, err := badger.Open(opts)
	if err != nil {
		// The store may be locked by a running engine; fall back to a
		// writable open.
		opts.ReadOnly = false
		db, err = badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger db: %w", err)
		}
	}

	return &DBReader{db: db}, nil
}

func (r *DBReader) Close() error {
	return r.db.Close()
}

// ListAllKeys lists every key in the store.
func (r *DBReader) ListAllKeys() error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var keys []string
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}

		sort.Strings(keys)

		fmt.Printf("Found %d keys in database:\n", len(keys))
		for i, key := range keys {
			fmt.Printf("%3d. %s\n", i+1, key)
		}
		return nil
	})
}

// GetValue prints one key's value, pretty-printing JSON payloads.
func (r *DBReader) GetValue(key string) error {
	return r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return fmt.Errorf("key not found: %s", key)
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to copy value: %w", err)
		}

		fmt.Printf("Key: %s\n", key)
		fmt.Printf("Size: %d bytes\n", len(value))

		if len(value) > 0 && (value[0] == '{' || value[0] == '[') {
			var prettyJSON interface{}
			if err := json.Unmarshal(value, &prettyJSON); err == nil {
				prettyBytes, _ := json.MarshalIndent(prettyJSON, "", "  ")
				fmt.Printf("Value (JSON):\n%s\n", string(prettyBytes))
				return nil
			}
		}
		fmt.Printf("Value (string): %s\n", string(value))
		return nil
	})
}

// SearchKeys lists keys containing a substring.
func (r *DBReader) SearchKeys(pattern string) error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var matches []string
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if strings.Contains(key, pattern) {
				matches = append(matches, key)
			}
		}

		sort.Strings(matches)

		if len(matches) == 0 {
			fmt.Printf("No keys found matching pattern: %s\n", pattern)
			return nil
		}
		fmt.Printf("Found %d keys matching '%s':\n", len(matches), pattern)
		for i, key := range matches {
			fmt.Printf("%3d. %s\n", i+1, key)
		}
		return nil
	})
}

type roundSummary struct {
	ID           uint64 `json:"id"`
	Number       uint64 `json:"number"`
	Status       string `json:"status"`
	WinnerNumber int    `json:"winner_number"`
	TotalPrize   int64  `json:"total_prize"`
	Tickets      []any  `json:"tickets"`
}

// ListRounds prints a one-line summary per stored round.
func (r *DBReader) ListRounds() error {
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("engine/rounds/")
		count := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if key == "engine/rounds/latest" {
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				continue
			}

			var round roundSummary
			if err := json.Unmarshal(value, &round); err != nil {
				fmt.Printf("%s: unparseable (%v)\n", key, err)
				continue
			}
			count++
			fmt.Printf("round %d  number=%d  status=%-8s  winner=%d  tickets=%d  total_prize=%d\n",
				round.ID, round.Number, round.Status, round.WinnerNumber, len(round.Tickets), round.TotalPrize)
		}

		if count == 0 {
			fmt.Println("No rounds found")
		}
		return nil
	})
}

// LatestRound prints the latest-round pointer.
func (r *DBReader) LatestRound() error {
	return r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("engine/rounds/latest"))
		if err != nil {
			fmt.Println("No latest round pointer set")
			return nil
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		fmt.Printf("Latest round: %s\n", string(value))
		return nil
	})
}

func main() {
	var (
		dbPath   = flag.String("db", "", "Path to Badger database directory")
		listKeys = flag.Bool("list", false, "List all keys")
		getKey   = flag.String("get", "", "Get value for specific key")
		search   = flag.String("search", "", "Search keys containing pattern")
		rounds   = flag.Bool("rounds", false, "Summarize stored rounds")
		latest   = flag.Bool("latest", false, "Show the latest round pointer")
	)
	flag.Parse()

	if *dbPath == "" {
		if _, err := os.Stat("data/engine"); err == nil {
			*dbPath = "data/engine"
		} else {
			log.Fatal("Database path not specified. Use -db flag or ensure 'data/engine' exists.")
		}
	}

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		log.Fatalf("Database path does not exist: %s", *dbPath)
	}

	reader, err := NewDBReader(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer reader.Close()

	fmt.Printf("Opened Badger database: %s\n\n", *dbPath)

	if *listKeys {
		if err := reader.ListAllKeys(); err != nil {
			log.Printf("Error listing keys: %v", err)
		}
	}
	if *getKey != "" {
		if err := reader.GetValue(*getKey); err != nil {
			log.Printf("Error getting value: %v", err)
		}
	}
	if *search != "" {
		if err := reader.SearchKeys(*search); err != nil {
			log.Printf("Error searching keys: %v", err)
		}
	}
	if *rounds {
		if err := reader.ListRounds(); err != nil {
			log.Printf("Error listing rounds: %v", err)
		}
	}
	if *latest {
		if err := reader.LatestRound(); err != nil {
			log.Printf("Error reading latest pointer: %v", err)
		}
	}

	if !*listKeys && *getKey == "" && *search == "" && !*rounds && !*latest {
		fmt.Println("Usage examples:")
		fmt.Println("  ./db-reader -rounds                          # Summarize stored rounds")
		fmt.Println("  ./db-reader -latest                          # Show the latest round pointer")
		fmt.Println("  ./db-reader -search tickets                  # Search for keys containing 'tickets'")
		fmt.Println("  ./db-reader -get 'engine/rounds/latest'      # Get specific key value")
		fmt.Println("  ./db-reader -db /path/to/db -list            # Specify custom database path")
	}
}
