package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cairn/cache"
	"github.com/roach88/cairn/fingerprint"
)

// CacheOptions holds flags shared by the cache subcommands.
type CacheOptions struct {
	*RootOptions
	Cacher  string
	Path    string // optional - path override the entry was saved with
	Sheet   string
	TableDB string
	Table   string
}

// CacherNames lists the strategies the cache commands can address.
var CacherNames = []string{"json", "yaml", "gob", "csv", "xlsx", "db_table", "metadata_only", "file_ref", "path_ref"}

// CacheEntryResult holds the output of the cache subcommands.
type CacheEntryResult struct {
	Name         string          `json:"name"`
	Hash         string          `json:"hash"`
	Path         string          `json:"path"`
	MetadataPath string          `json:"metadata_path"`
	Committed    bool            `json:"committed"`
	Cleared      bool            `json:"cleared,omitempty"`
	Metadata     *cache.Metadata `json:"metadata,omitempty"`
}

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear artifact cache entries",
		Long: `Inspect and clear artifact cache entries.

An entry is addressed by artifact hash and name, plus the cacher it was
saved with. An entry is committed once its metadata sidecar exists.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Cacher, "cacher", "json", "cacher the entry was saved with ("+strings.Join(CacherNames, "|")+")")
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "", "path override the entry was saved with")
	cmd.PersistentFlags().StringVar(&opts.Sheet, "sheet", "", "sheet name for the xlsx cacher")
	cmd.PersistentFlags().StringVar(&opts.TableDB, "table-db", "", "SQLite database for the db_table cacher")
	cmd.PersistentFlags().StringVar(&opts.Table, "table", "", "table name template for the db_table cacher")

	cmd.AddCommand(&cobra.Command{
		Use:   "check <hash> <name>",
		Short: "Report whether an entry is committed",
		Long: `Report whether an entry is committed, without decoding its payload.

Exit codes:
  0 - The entry was checked (committed or not)
  1 - The entry's metadata is corrupt
  2 - Command error

Examples:
  cairn cache check 846d4ded... model --cacher gob
  cairn cache check 846d4ded... scores --cacher csv --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheCheck(opts, cmd, args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <hash> <name>",
		Short: "Remove an entry's sidecar and payload",
		Long: `Remove an entry's metadata sidecar, then its payload. The next
pipeline run recomputes the artifact.

Examples:
  cairn cache clear 846d4ded... model --cacher gob`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(opts, cmd, args[0], args[1])
		},
	})

	return cmd
}

// entry resolves the addressed entry. The returned func releases any table
// database it opened.
func (o *CacheOptions) entry(hash, name string) (*cache.Entry, func(), error) {
	cs, err := o.openCache()
	if err != nil {
		return nil, nil, err
	}
	c, release, err := o.cacher()
	if err != nil {
		return nil, nil, err
	}

	var eopts []cache.EntryOption
	if o.Path != "" {
		eopts = append(eopts, cache.WithPathOverride(o.Path))
	}
	key := cache.Key{Hash: fingerprint.Hash(hash), Name: name}
	return cs.Entry(key, c, eopts...), release, nil
}

func (o *CacheOptions) cacher() (cache.Cacher, func(), error) {
	nop := func() {}
	switch o.Cacher {
	case "json":
		return cache.NewJSONCacher(), nop, nil
	case "yaml":
		return cache.NewYAMLCacher(), nop, nil
	case "gob":
		return cache.NewGobCacher(), nop, nil
	case "csv":
		return cache.NewCSVCacher(), nop, nil
	case "xlsx":
		return cache.NewXLSXCacher(o.Sheet), nop, nil
	case "metadata_only":
		return cache.NewMetadataOnlyCacher(), nop, nil
	case "file_ref":
		return cache.NewFileRefCacher(), nop, nil
	case "path_ref":
		return cache.NewPathRefCacher(), nop, nil
	case "db_table":
		if o.TableDB == "" {
			return nil, nil, NewExitError(ExitCommandError, ErrCodeUsage, "--table-db is required for the db_table cacher")
		}
		db, err := cache.OpenTableDB(o.TableDB)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, ErrCodeCache, "failed to open table database", err)
		}
		return cache.NewDBTableCacher(db, o.Table), func() { db.Close() }, nil
	}
	return nil, nil, NewExitError(ExitCommandError, ErrCodeUsage,
		fmt.Sprintf("unknown cacher %q: must be one of %v", o.Cacher, CacherNames))
}

func runCacheCheck(opts *CacheOptions, cmd *cobra.Command, hash, name string) error {
	ctx := cmd.Context()

	e, release, err := opts.entry(hash, name)
	if err != nil {
		return err
	}
	defer release()

	ok, err := e.Check(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeCache, "failed to check cache entry", err)
	}

	result := CacheEntryResult{
		Name:         name,
		Hash:         hash,
		Path:         e.Path(),
		MetadataPath: e.MetadataPath(),
		Committed:    ok,
	}
	if ok {
		meta, err := e.Metadata(ctx)
		if cache.IsCacheCorruption(err) {
			return WrapExitError(ExitFailure, ErrCodeCorrupt, "cache entry is corrupt", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeCache, "failed to read cache metadata", err)
		}
		result.Metadata = meta
	}

	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		short := fingerprint.Hash(hash).Short()
		if !result.Committed {
			fmt.Fprintf(w, "✗ %s (%s) is not cached\n", name, short)
			fmt.Fprintf(w, "  Path: %s\n", result.Path)
			return
		}
		fmt.Fprintf(w, "✓ %s (%s) is cached\n", name, short)
		fmt.Fprintf(w, "  Path: %s\n", result.Path)
		fmt.Fprintf(w, "  Cacher: %s\n", result.Metadata.CacherType)
		fmt.Fprintf(w, "  Saved: %s\n", result.Metadata.SavedAt.Format(time.RFC3339))
		if opts.Verbose {
			fmt.Fprintf(w, "  Metadata: %s\n", result.MetadataPath)
			for _, p := range result.Metadata.Paths {
				fmt.Fprintf(w, "  File: %s\n", p)
			}
		}
	})
}

func runCacheClear(opts *CacheOptions, cmd *cobra.Command, hash, name string) error {
	e, release, err := opts.entry(hash, name)
	if err != nil {
		return err
	}
	defer release()

	if err := e.Clear(cmd.Context()); err != nil {
		return WrapExitError(ExitCommandError, ErrCodeCache, "failed to clear cache entry", err)
	}

	result := CacheEntryResult{
		Name:         name,
		Hash:         hash,
		Path:         e.Path(),
		MetadataPath: e.MetadataPath(),
		Cleared:      true,
	}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Cleared %s (%s)\n", name, fingerprint.Hash(hash).Short())
	})
}
