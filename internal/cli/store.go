package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/store"
)

// StoreOptions holds flags for the store subcommands.
type StoreOptions struct {
	*RootOptions
	Scope string
}

// NewStoreCommand creates the store command and its subcommands.
func NewStoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the durable local store",
		Long: `Inspect or clear the collections cached in the local store.

A collection is addressed by kind and scope: tabs, catalog, settings and
users are scoped by user id, categories by tab id and links by category id.

Example:
  marksync store keys links --scope c1
  marksync store get links l1 --scope c1
  marksync store clear links --scope c1`,
	}
	cmd.PersistentFlags().StringVar(&opts.Scope, "scope", "", "scope key of the collection")

	keys := &cobra.Command{
		Use:           "keys <kind>",
		Short:         "List the record ids cached for a collection",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreKeys(opts, cmd, args[0])
		},
	}

	get := &cobra.Command{
		Use:           "get <kind> <id>",
		Short:         "Print one cached record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreGet(opts, cmd, args[0], args[1])
		},
	}

	clearCmd := &cobra.Command{
		Use:           "clear <kind>",
		Short:         "Drop every cached record of a collection",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreClear(opts, cmd, args[0])
		},
	}

	cmd.AddCommand(keys, get, clearCmd)
	return cmd
}

// KeysResult is the payload of store keys.
type KeysResult struct {
	Namespace string   `json:"namespace"`
	Keys      []string `json:"keys"`
}

// RenderText prints one key per line.
func (r KeysResult) RenderText(w io.Writer) error {
	if len(r.Keys) == 0 {
		_, err := fmt.Fprintf(w, "%s is empty\n", r.Namespace)
		return err
	}
	_, err := fmt.Fprintln(w, strings.Join(r.Keys, "\n"))
	return err
}

// RecordResult is the payload of store get.
type RecordResult struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Record    json.RawMessage `json:"record"`
}

// RenderText prints the record as indented JSON.
func (r RecordResult) RenderText(w io.Writer) error {
	var v any
	if err := json.Unmarshal(r.Record, &v); err != nil {
		_, err = fmt.Fprintln(w, string(r.Record))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openStore parses kind and opens the configured local store.
func openStore(opts *StoreOptions, cmd *cobra.Command, kindArg string) (store.Store, store.Namespace, error) {
	kind, err := entity.ParseKind(kindArg)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "invalid kind", err)
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return nil, "", err
	}
	st, err := store.Open(cmd.Context(), cfg.LocalStore())
	if err != nil {
		return nil, "", fmt.Errorf("open local store: %w", err)
	}
	return st, store.NamespaceFor(kind, opts.Scope), nil
}

func runStoreKeys(opts *StoreOptions, cmd *cobra.Command, kind string) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	st, ns, err := openStore(opts, cmd, kind)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	keys, err := st.Keys(cmd.Context(), ns)
	if err != nil {
		return out.Fail(ExitFailure, "failed to list keys", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return out.Success(KeysResult{Namespace: string(ns), Keys: keys})
}

func runStoreGet(opts *StoreOptions, cmd *cobra.Command, kind, key string) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	st, ns, err := openStore(opts, cmd, kind)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	data, err := st.Get(cmd.Context(), ns, key)
	if err != nil {
		return out.Fail(ExitFailure, fmt.Sprintf("failed to read %s", key), err)
	}
	return out.Success(RecordResult{Namespace: string(ns), Key: key, Record: data})
}

func runStoreClear(opts *StoreOptions, cmd *cobra.Command, kind string) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	st, ns, err := openStore(opts, cmd, kind)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	if err := st.Clear(cmd.Context(), ns); err != nil {
		return out.Fail(ExitFailure, "failed to clear", err)
	}
	return out.Success(fmt.Sprintf("cleared %s", ns))
}
