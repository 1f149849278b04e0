package harness

import (
	"fmt"

	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/order"
)

// args reads step arguments decoded from YAML. Missing keys read as zero
// values; ids may be written as numbers or strings.
type args map[string]any

func (a args) has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a args) str(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (a args) num(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	default:
		return 0
	}
}

func (a args) id(key string) uint64 {
	if n := a.num(key); n > 0 {
		return uint64(n)
	}
	return 0
}

func (a args) flag(key string) bool {
	b, _ := a[key].(bool)
	return b
}

func (a args) strs(key string) []string {
	list, ok := a[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, len(list))
	for i, v := range list {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func (a args) shelf() model.ShelfID { return model.ShelfID(a.str("shelf")) }

func (a args) dim() model.Dimension {
	if d := a.str("dimension"); d != "" {
		return model.Dimension(d)
	}
	return model.DimensionItems
}

// moveCommand reads {id, ref, before}; without ref the element goes to the
// head when before is set, else to the tail.
func moveCommand(a args) order.Command[string] {
	cmd := order.Command[string]{ID: a.str("id"), Before: a.flag("before")}
	if a.has("ref") {
		ref := a.str("ref")
		cmd.Ref = &ref
	}
	return cmd
}
