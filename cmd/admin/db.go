package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/autorefill.sqlite)")
	actor := fs.Uint64("actor", 0, "actor id filter (prefs, changes)")
	limit := fs.Int("limit", 20, "result limit (changes)")
	_ = fs.Parse(args)

	q := "prefs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "autorefill.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "prefs":
		query := `SELECT actor_id,enabled,updated_at FROM preferences ORDER BY CAST(actor_id AS INTEGER)`
		var qargs []any
		if *actor != 0 {
			query = `SELECT actor_id,enabled,updated_at FROM preferences WHERE actor_id = ?`
			qargs = append(qargs, fmt.Sprint(*actor))
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ActorID   string `json:"actor_id"`
				Enabled   bool   `json:"enabled"`
				UpdatedAt string `json:"updated_at"`
			}
			var enabled int
			if err := rows.Scan(&r.ActorID, &enabled, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.Enabled = enabled != 0
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "changes":
		if *limit <= 0 {
			*limit = 20
		}
		query := `SELECT raw_json FROM changes ORDER BY ts DESC, id LIMIT ?`
		qargs := []any{*limit}
		if *actor != 0 {
			query = `SELECT raw_json FROM changes WHERE actor_id = ? OR target_id = ? ORDER BY ts DESC, id LIMIT ?`
			qargs = []any{int64(*actor), int64(*actor), *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(json.RawMessage(raw))
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(map[string]string{"key": k, "value": v})
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown db query %q (want prefs|changes|meta)\n", q)
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
