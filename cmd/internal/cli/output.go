package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

// printResult writes v as indented JSON or as sorted "key: value" lines.
func printResult(cmd *cobra.Command, opts *RootOptions, v interface{}) error {
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return err
	}
	switch value := generic.(type) {
	case map[string]interface{}:
		writeFields(out, value, "")
	case []interface{}:
		for i, item := range value {
			if i > 0 {
				fmt.Fprintln(out)
			}
			if fields, ok := item.(map[string]interface{}); ok {
				writeFields(out, fields, "")
				continue
			}
			fmt.Fprintln(out, item)
		}
	default:
		fmt.Fprintln(out, value)
	}
	return nil
}

func writeFields(out io.Writer, fields map[string]interface{}, indent string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if nested, ok := fields[k].(map[string]interface{}); ok {
			fmt.Fprintf(out, "%s%s:\n", indent, k)
			writeFields(out, nested, indent+"  ")
			continue
		}
		fmt.Fprintf(out, "%s%s: %v\n", indent, k, fields[k])
	}
}
