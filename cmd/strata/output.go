package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
)

type entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func entriesOf(m *ordered.Map[key.String, []byte]) []entry {
	out := make([]entry, 0, m.Len())
	for k, v := range m.All() {
		out = append(out, entry{Key: k.Value(), Value: string(v)})
	}
	return out
}

func printEntries(w io.Writer, entries []entry) error {
	if outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}
