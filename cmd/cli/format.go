package main

import (
	"io"
	"strconv"
	"strings"

	"github.com/eternalApril/moonkv/internal/resp"
)

// writeReply prints a reply the way redis-cli does
func writeReply(w io.Writer, v resp.Value) error {
	var sb strings.Builder
	formatValue(&sb, v, "")
	_, err := io.WriteString(w, sb.String())
	return err
}

func formatValue(sb *strings.Builder, v resp.Value, indent string) {
	switch {
	case v.IsNull:
		sb.WriteString("(nil)\n")

	case v.Type == resp.TypeSimpleString:
		sb.Write(v.String)
		sb.WriteByte('\n')

	case v.Type == resp.TypeError:
		sb.WriteString("(error) ")
		sb.Write(v.String)
		sb.WriteByte('\n')

	case v.Type == resp.TypeInteger:
		sb.WriteString("(integer) ")
		sb.WriteString(strconv.FormatInt(v.Integer, 10))
		sb.WriteByte('\n')

	case v.Type == resp.TypeBulkString:
		sb.WriteString(strconv.Quote(string(v.String)))
		sb.WriteByte('\n')

	case v.Type == resp.TypeArray:
		if len(v.Array) == 0 {
			sb.WriteString("(empty array)\n")
			return
		}
		for i, el := range v.Array {
			prefix := itemPrefix(i, len(v.Array), ") ")
			if i > 0 {
				sb.WriteString(indent)
			}
			sb.WriteString(prefix)
			formatValue(sb, el, indent+strings.Repeat(" ", len(prefix)))
		}

	case v.Type == resp.TypeMap:
		if len(v.Map) == 0 {
			sb.WriteString("(empty hash)\n")
			return
		}
		for i, p := range v.Map {
			prefix := itemPrefix(i, len(v.Map), "# ")
			if i > 0 {
				sb.WriteString(indent)
			}
			sb.WriteString(prefix)
			var key strings.Builder
			formatValue(&key, p.Key, "")
			sb.WriteString(strings.TrimSuffix(key.String(), "\n"))
			sb.WriteString(" => ")
			formatValue(sb, p.Value, indent+strings.Repeat(" ", len(prefix)))
		}

	default:
		sb.WriteString("(unknown ")
		sb.WriteString(resp.TypeName(v.Type))
		sb.WriteString(")\n")
	}
}

// itemPrefix right-aligns element numbers within one collection
func itemPrefix(i, n int, sep string) string {
	num := strconv.Itoa(i + 1)
	width := len(strconv.Itoa(n))
	return strings.Repeat(" ", width-len(num)) + num + sep
}
