package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/mattjoyce/rfidgate/internal/directory"
	"github.com/mattjoyce/rfidgate/internal/storage"
)

// openDirectory loads the config and opens its employee store. The returned
// close func releases the database.
func openDirectory(ctx context.Context, configPath string) (*directory.Store, func(), error) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(ctx, cfg.Directory.Driver, cfg.Directory.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open directory: %w", err)
	}
	return directory.NewStore(db), func() { _ = db.Close() }, nil
}

func runEmployeeList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, closeFn, err := openDirectory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	list, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(list)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RFID\tUSERNAME\tEMAIL\tDEPARTMENT\tROLE")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.RFID, e.Username, e.Email, e.Department, e.Role)
	}
	_ = tw.Flush()
	return 0
}

func runEmployeeGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: rfidgate employee get <rfid> [--config PATH]")
		return 1
	}

	ctx := context.Background()
	store, closeFn, err := openDirectory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	emp, err := store.FindByID(ctx, fs.Arg(0))
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "No employee with rfid %q\n", fs.Arg(0))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return printJSON(emp)
}

func runEmployeeAdd(args []string) int {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	file := fs.String("file", "", "JSON employee record, or - for stdin")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: rfidgate employee add --file PATH|- [--config PATH]")
		return 1
	}

	emp, err := readEmployee(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, closeFn, err := openDirectory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	saved, err := store.Save(ctx, emp)
	if err != nil {
		var ve *directory.ValidationError
		if errors.As(err, &ve) {
			fmt.Fprintln(os.Stderr, "Invalid employee:")
			for _, p := range ve.Problems {
				fmt.Fprintf(os.Stderr, "  - %s\n", p)
			}
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return printJSON(saved)
}

func runEmployeeDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: rfidgate employee delete <rfid> [--config PATH]")
		return 1
	}

	ctx := context.Background()
	store, closeFn, err := openDirectory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	if err := store.Delete(ctx, fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Deleted %s\n", fs.Arg(0))
	return 0
}

func readEmployee(path string) (directory.Employee, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return directory.Employee{}, err
		}
		defer f.Close()
		r = f
	}

	var emp directory.Employee
	if err := json.NewDecoder(r).Decode(&emp); err != nil {
		return directory.Employee{}, fmt.Errorf("parse employee JSON: %w", err)
	}
	return emp, nil
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
