// Command chunkwise runs a reduction over one column of a CSV file using
// the chunked execution engine.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/chunkwise/chunkwise"
	"github.com/chunkwise/chunkwise/expr"
	"github.com/chunkwise/chunkwise/internal/version"
	"github.com/chunkwise/chunkwise/source"
)

func customUsage() {
	fmt.Fprintf(os.Stderr, "Chunkwise execution engine CLI (version %s)\n\n", version.Version)
	fmt.Fprintf(os.Stderr, "Usage: chunkwise -file data.csv -column price -op mean [options]\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	fmt.Fprintf(os.Stderr, "  --file PATH\n\t\tCSV file to query (required)\n")
	fmt.Fprintf(os.Stderr, "  --column NAME\n\t\tColumn to reduce; omit to reduce over whole rows (count only)\n")
	fmt.Fprintf(os.Stderr, "  --op NAME\n\t\tReduction: count, sum, mean, var, std, nunique (default: count)\n")
	fmt.Fprintf(os.Stderr, "  --chunk-size N\n\t\tElements per partition for out-of-core execution\n")
	fmt.Fprintf(os.Stderr, "  --workers N\n\t\tParallel chunk workers (default: sequential)\n")
	fmt.Fprintf(os.Stderr, "  --verbose\n\t\tLog strategy decisions\n")
	fmt.Fprintf(os.Stderr, "  -v, --version\n\t\tPrint version information and exit\n")
	fmt.Fprintf(os.Stderr, "  -h, --help\n\t\tShow this help message and exit\n")
}

func main() {
	versionFlag := flag.Bool("v", false, "Print version and exit")
	flag.BoolVar(versionFlag, "version", false, "Print version and exit") // alias
	fileFlag := flag.String("file", "", "CSV file to query")
	columnFlag := flag.String("column", "", "Column to reduce")
	opFlag := flag.String("op", "count", "Reduction to run")
	chunkFlag := flag.Int("chunk-size", 0, "Elements per partition")
	workersFlag := flag.Int("workers", 0, "Parallel chunk workers")
	verboseFlag := flag.Bool("verbose", false, "Log strategy decisions")

	flag.Usage = customUsage
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}
	if *fileFlag == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(*fileFlag, *columnFlag, *opFlag, *chunkFlag, *workersFlag, *verboseFlag); err != nil {
		fmt.Fprintln(os.Stderr, "chunkwise:", err)
		os.Exit(1)
	}
}

func run(path, column, op string, chunkSize, workers int, verbose bool) error {
	mem := memory.NewGoAllocator()

	rec, err := readCSV(path, mem)
	if err != nil {
		return err
	}
	tab := source.NewTable(rec, mem)
	defer tab.Release()

	e, err := buildQuery(tab.Schema(), column, op)
	if err != nil {
		return err
	}

	var opts []chunkwise.Option
	opts = append(opts, chunkwise.WithAllocator(mem))
	if chunkSize > 0 {
		opts = append(opts, chunkwise.WithChunkSize(chunkSize))
	}
	if workers > 0 {
		opts = append(opts, chunkwise.WithParallelism(workers))
	}
	if verbose {
		log, lerr := zap.NewDevelopment()
		if lerr != nil {
			return lerr
		}
		defer func() { _ = log.Sync() }()
		opts = append(opts, chunkwise.WithLogger(log))
	}

	out, err := chunkwise.Execute(e, tab, opts...)
	if err != nil {
		return err
	}
	printResult(out)
	return nil
}

// readCSV loads an entire CSV file into one record batch, inferring column
// types from the data.
func readCSV(path string, mem memory.Allocator) (arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rdr := csv.NewInferringReader(f,
		csv.WithAllocator(mem),
		csv.WithHeader(true),
		csv.WithChunk(-1))
	defer rdr.Release()

	if !rdr.Next() {
		if err := rdr.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return nil, fmt.Errorf("read %s: no rows", path)
	}
	rec := rdr.Record()
	rec.Retain()
	return rec, nil
}

// buildQuery assembles the expression: a symbolic table leaf, an optional
// column projection, and the requested reduction on top.
func buildQuery(schema *arrow.Schema, column, op string) (chunkwise.Expr, error) {
	sym := expr.NewSymbol("t", expr.Table(schema))

	var e chunkwise.Expr = sym
	if column != "" {
		if !schema.HasField(column) {
			return nil, fmt.Errorf("no column %q in %v", column, schema)
		}
		e = expr.Field(e, column)
	}

	switch op {
	case "count":
		return expr.Count(e), nil
	case "sum":
		return expr.Sum(e), nil
	case "mean":
		return expr.Mean(e), nil
	case "var":
		return expr.Var(e, true), nil
	case "std":
		return expr.Std(e, true), nil
	case "nunique":
		return expr.Nunique(e), nil
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
}

func printResult(out any) {
	switch v := out.(type) {
	case arrow.Array:
		defer v.Release()
		fmt.Println(v)
	case arrow.Record:
		defer v.Release()
		fmt.Println(v)
	case []any:
		for _, e := range v {
			fmt.Println(e)
		}
	default:
		fmt.Println(v)
	}
}
