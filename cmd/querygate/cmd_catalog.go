package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"querygate/internal/membership"
	"querygate/internal/types"
)

// catalogCmd manages namespace catalogs in the configured store
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage namespace identifier catalogs",
}

var catalogSetCmd = &cobra.Command{
	Use:   "set [namespace] [file|-]",
	Short: "Replace a namespace catalog with the identifiers in a file",
	Long: `Reads one identifier per line (blank lines and # comments are skipped)
and atomically replaces the namespace catalog.`,
	Args: cobra.ExactArgs(2),
	RunE: runCatalogSet,
}

var catalogAddCmd = &cobra.Command{
	Use:   "add [namespace] [identifier...]",
	Short: "Add identifiers to a namespace catalog",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCatalogAdd,
}

var catalogListCmd = &cobra.Command{
	Use:   "list [namespace]",
	Short: "List the identifiers of a namespace",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogList,
}

var catalogHasCmd = &cobra.Command{
	Use:   "has [namespace] [identifier]",
	Short: "Report whether a namespace contains an identifier",
	Args:  cobra.ExactArgs(2),
	RunE:  runCatalogHas,
}

func init() {
	catalogCmd.AddCommand(catalogSetCmd)
	catalogCmd.AddCommand(catalogAddCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogHasCmd)
}

func runCatalogSet(cmd *cobra.Command, args []string) error {
	ns := types.Namespace(args[0])
	ids, err := readIdentifiers(cmd.InOrStdin(), args[1])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetAll(ctx, ns, ids); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "namespace %s: %d identifier(s)\n", ns, len(ids))
	return nil
}

func runCatalogAdd(cmd *cobra.Command, args []string) error {
	ns := types.Namespace(args[0])

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, id := range args[1:] {
		if err := store.AddOne(ctx, ns, id); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "namespace %s: added %d identifier(s)\n", ns, len(args)-1)
	return nil
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	ns := types.Namespace(args[0])

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var ids []string
	if lister, ok := store.(membership.Lister); ok {
		if ids, err = lister.List(ctx, ns); err != nil {
			return err
		}
	} else {
		set, err := store.GetAll(ctx, ns)
		if err != nil {
			return err
		}
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func runCatalogHas(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	ok, err := store.Exists(ctx, types.Namespace(args[0]), args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ok)
	if !ok {
		return errRejected
	}
	return nil
}

// readIdentifiers reads one identifier per line from path, or from in for "-".
func readIdentifiers(in io.Reader, path string) ([]string, error) {
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open identifier file")
		}
		defer f.Close()
		in = f
	}

	var ids []string
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read identifiers")
	}
	return ids, nil
}
