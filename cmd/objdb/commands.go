package main

import (
	"cmp"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/objdb"
)

type typeRow struct {
	Code int    `yaml:"code"`
	Name string `yaml:"name"`
}

type storeRow struct {
	objdb.StoreInfo `yaml:",inline"`
	Keys            int `yaml:"keys"`
}

type keyRow struct {
	Key  any   `yaml:"key"`
	Slot int64 `yaml:"slot"`
	Size *int  `yaml:"size,omitempty"`
}

// withDriver opens the database, runs f and closes the database again.
func (a *app) withDriver(cmd *cobra.Command, f func(ctx context.Context, drv objdb.Driver) error) error {
	drv, err := a.openDriver()
	if err != nil {
		return err
	}
	err = f(cmd.Context(), drv)
	return errors.Join(err, drv.Close())
}

func (a *app) typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the persisted type table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDriver(cmd, func(ctx context.Context, drv objdb.Driver) error {
				var rows []typeRow
				for code, name := range drv.Types(ctx) {
					rows = append(rows, typeRow{code, name})
				}
				return a.print(cmd.OutOrStdout(), rows, func(tw io.Writer) {
					fmt.Fprintln(tw, "CODE\tNAME")
					for _, r := range rows {
						fmt.Fprintf(tw, "%d\t%s\n", r.Code, r.Name)
					}
				})
			})
		},
	}
}

func (a *app) storesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List the stores of the manifest with their key counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDriver(cmd, func(ctx context.Context, drv objdb.Driver) error {
				manifest, err := drv.Manifest(ctx)
				if err != nil {
					return err
				}
				rows := make([]storeRow, 0, len(manifest))
				for _, si := range manifest {
					keys, err := drv.DeserializeKeys(ctx, si.ID, si.KeyType)
					if err != nil {
						return err
					}
					rows = append(rows, storeRow{si, len(keys.Entries)})
				}
				return a.print(cmd.OutOrStdout(), rows, func(tw io.Writer) {
					fmt.Fprintln(tw, "STORE\tTYPE\tKEY TYPE\tKEYS")
					for _, r := range rows {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.ID, r.TypeName, r.KeyType, r.Keys)
					}
				})
			})
		},
	}
}

func (a *app) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys <store>",
		Short: "List the keys of a store in slot order",
		Long: `List the keys of a store in slot order. Keys of built-in types are
decoded; keys of application-registered value types are printed as hex.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withSizes, _ := cmd.Flags().GetBool("sizes")
			return a.withDriver(cmd, func(ctx context.Context, drv objdb.Driver) error {
				rows, err := listKeys(ctx, drv, objdb.StoreID(args[0]), withSizes)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), rows, func(tw io.Writer) {
					if withSizes {
						fmt.Fprintln(tw, "SLOT\tKEY\tSIZE")
					} else {
						fmt.Fprintln(tw, "SLOT\tKEY")
					}
					for _, r := range rows {
						if r.Size != nil {
							fmt.Fprintf(tw, "%d\t%v\t%d\n", r.Slot, r.Key, *r.Size)
						} else {
							fmt.Fprintf(tw, "%d\t%v\n", r.Slot, r.Key)
						}
					}
				})
			})
		},
	}
	cmd.Flags().Bool("sizes", false, wrapString("Also print the stored size of each record (reads every record)"))
	return cmd
}

func listKeys(ctx context.Context, drv objdb.Driver, store objdb.StoreID, withSizes bool) ([]keyRow, error) {
	manifest, err := drv.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	var info *objdb.StoreInfo
	for i := range manifest {
		if manifest[i].ID == store {
			info = &manifest[i]
		}
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", objdb.ErrStoreNotFound, store)
	}

	ks, err := drv.DeserializeKeys(ctx, store, info.KeyType)
	if err != nil {
		return nil, err
	}
	entries := ks.Entries
	ser := objdb.NewMsgpackSerializer()
	rows := make([]keyRow, 0, len(entries))
	for _, ke := range entries {
		row := keyRow{Slot: ke.Slot}
		if ser.Supports(info.KeyType) {
			row.Key, err = ser.Decode(info.KeyType, ke.Key)
			if err != nil {
				return nil, fmt.Errorf("%s: slot %d: %w", store, ke.Slot, err)
			}
		} else {
			row.Key = hex.EncodeToString(ke.Key)
		}
		if withSizes {
			data, err := drv.LoadRaw(ctx, store, ke.Slot)
			if err != nil && !errors.Is(err, objdb.ErrNotFound) {
				return nil, err
			}
			n := len(data)
			row.Size = &n
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b keyRow) int {
		return cmp.Compare(a.Slot, b.Slot)
	})
	return rows, nil
}


func (a *app) purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every record, key list and index",
		Long: `Delete every record, key list and index of every store. The type table
and the store manifest are kept. The owning application must not be running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return errors.New("refusing to purge without --yes")
			}
			return a.withDriver(cmd, func(ctx context.Context, drv objdb.Driver) error {
				err := drv.Purge(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "purged")
				return nil
			})
		},
	}
	cmd.Flags().Bool("yes", false, wrapString("Confirm that all data should be deleted"))
	return cmd
}

// print writes v as YAML, or calls text with a tab-aligned writer.
func (a *app) print(w io.Writer, v any, text func(tw io.Writer)) error {
	if a.v.GetString("format") == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}
