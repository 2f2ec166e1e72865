// Command lsmkv is a small CLI front end for package db: a table-scoped
// key-value store. Non-interactive use issues one subcommand per process;
// -interactive reads a script of subcommands from stdin, one per line, so a
// session can switch tables and issue several operations without reopening
// the database each time.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"lsmkv/db"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet("lsmkv", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dir := fs.String("dir", "data", "database directory")
	maxSegSize := fs.Int64("max-seg-size", 0, "flush threshold in bytes (0 keeps the default)")
	syncOnWrite := fs.Bool("sync", true, "fsync the WAL on every write")
	verbose := fs.Bool("verbose", false, "print extra diagnostics to stderr")
	interactive := fs.Bool("interactive", false, "read a script of subcommands from stdin")

	var cmd string
	var rest []string
	if os.Args[1] == "-interactive" || os.Args[1] == "--interactive" {
		cmd = ""
		rest = os.Args[1:]
	} else {
		cmd = os.Args[1]
		rest = os.Args[2:]
	}
	if err := fs.Parse(rest); err != nil {
		os.Exit(2)
	}
	args := fs.Args()

	opts := db.DefaultOptions()
	if *maxSegSize > 0 {
		opts.MaxSegSize = *maxSegSize
	}
	opts.SyncOnWrite = *syncOnWrite
	opts.Verbose = *verbose

	d, err := db.Open(*dir, opts)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = d.Close() }()

	if *interactive {
		runInteractive(d, os.Stdin, os.Stdout)
		return
	}

	if err := dispatch(d, cmd, args); err != nil {
		fatal(err)
	}
}

// dispatch runs one subcommand against an already-open database.
func dispatch(d *db.Db, cmd string, args []string) error {
	switch cmd {
	case "use":
		if len(args) != 1 {
			return fmt.Errorf("usage: use <table>")
		}
		return d.Use(args[0])
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("usage: put <key> <value>")
		}
		if err := d.Put([]byte(args[0]), []byte(args[1])); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <key>")
		}
		v, ok, err := d.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(string(v))
		return nil
	case "del":
		if len(args) != 1 {
			return fmt.Errorf("usage: del <key>")
		}
		if err := d.Delete([]byte(args[0])); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	case "tables":
		names, err := d.Tables()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// runInteractive reads one subcommand per line from r until EOF, reporting
// each error without killing the session (a typo shouldn't cost you the
// rest of the script).
func runInteractive(d *db.Db, r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := splitArgs(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return
		}
		if err := dispatch(d, fields[0], fields[1:]); err != nil {
			fmt.Fprintln(w, "error:", err)
		}
	}
}

// splitArgs is a minimal whitespace tokenizer that honors double-quoted
// fields, so values containing spaces can be passed on one line.
func splitArgs(line string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  lsmkv use [flags] <table>")
	fmt.Fprintln(os.Stderr, "  lsmkv put [flags] <key> <value>")
	fmt.Fprintln(os.Stderr, "  lsmkv get [flags] <key>")
	fmt.Fprintln(os.Stderr, "  lsmkv del [flags] <key>")
	fmt.Fprintln(os.Stderr, "  lsmkv tables [flags]")
	fmt.Fprintln(os.Stderr, "  lsmkv -interactive [flags]   (reads subcommands from stdin)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	fmt.Fprintln(os.Stderr, "  -dir            database directory (default: data)")
	fmt.Fprintln(os.Stderr, "  -max-seg-size   flush threshold in bytes")
	fmt.Fprintln(os.Stderr, "  -sync           fsync the WAL on every write (default: true)")
	fmt.Fprintln(os.Stderr, "  -verbose        print extra diagnostics to stderr")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
