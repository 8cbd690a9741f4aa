package llm

import (
	"fmt"
	"strings"

	"github.com/rpinsight/rpinsight/internal/entity"
	"github.com/rpinsight/rpinsight/internal/store"
)

// FormatContext renders retrieved documents as the context block of a
// prompt: one labeled section per document with kind-specific fields,
// separated by dividers. Missing fields render as "N/A".
func FormatContext(results []store.Result) string {
	if len(results) == 0 {
		return "No relevant data found."
	}

	blocks := make([]string, 0, len(results))
	for i, res := range results {
		md := res.Metadata
		var b strings.Builder

		switch res.Kind {
		case entity.KindLaunch:
			fmt.Fprintf(&b, "[Launch #%d]\n", i+1)
			fmt.Fprintf(&b, "Name: %s\n", orNA(md["launch_name"]))
			fmt.Fprintf(&b, "Status: %s\n", orNA(md["status"]))
			fmt.Fprintf(&b, "Mode: %s\n", orNA(md["mode"]))
		case entity.KindTestItem:
			fmt.Fprintf(&b, "[Test Item #%d]\n", i+1)
			fmt.Fprintf(&b, "Name: %s\n", orNA(md["item_name"]))
			fmt.Fprintf(&b, "Type: %s\n", orNA(md["item_type"]))
			fmt.Fprintf(&b, "Status: %s\n", orNA(md["status"]))
		case entity.KindLog:
			fmt.Fprintf(&b, "[Log #%d]\n", i+1)
			fmt.Fprintf(&b, "Level: %s\n", orNA(md["level"]))
		default:
			fmt.Fprintf(&b, "[%s #%d]\n", title(string(res.Kind)), i+1)
		}
		fmt.Fprintf(&b, "Content: %s", res.Content)

		blocks = append(blocks, b.String())
	}

	return strings.Join(blocks, "\n---\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// title renders an entity kind as a label: "test_item" → "Test Item".
func title(kind string) string {
	words := strings.Split(kind, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
