package sourcedb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pgsync-go/pgsync/internal/errs"
	"github.com/pgsync-go/pgsync/internal/types"
)

// ParseSlotLine parses one line of test_decoding output into a ChangeEvent
// (§4.1). The grammar is:
//
//	table <schema>.<table>: <OP>: key[type]:value key2[type]:value2 ...
//
// UPDATE lines carry two segments, "old-key: ... new-tuple: ...". DELETE
// lines carry only keys. TRUNCATE carries no row data at all.
func ParseSlotLine(line string, xmin int64) (types.ChangeEvent, error) {
	const prefix = "table "
	if !strings.HasPrefix(line, prefix) {
		return types.ChangeEvent{}, &errs.SlotParseError{Line: line, Err: fmt.Errorf("missing %q prefix", prefix)}
	}
	rest := strings.TrimPrefix(line, prefix)

	schemaTable, rest, ok := cutColon(rest)
	if !ok {
		return types.ChangeEvent{}, &errs.SlotParseError{Line: line, Err: fmt.Errorf("missing schema.table segment")}
	}
	schema, table, ok := strings.Cut(strings.TrimSpace(schemaTable), ".")
	if !ok {
		return types.ChangeEvent{}, &errs.SlotParseError{Line: line, Err: fmt.Errorf("malformed schema.table %q", schemaTable)}
	}

	opStr, rest, ok := cutColon(rest)
	if !ok {
		return types.ChangeEvent{}, &errs.SlotParseError{Line: line, Err: fmt.Errorf("missing operation segment")}
	}
	op := types.TgOp(strings.ToUpper(strings.TrimSpace(opStr)))
	if !op.Valid() {
		return types.ChangeEvent{}, &errs.SlotParseError{Line: line, Err: fmt.Errorf("%w: %q", errs.ErrUnknownTgOp, opStr)}
	}

	event := types.ChangeEvent{TgOp: op, Schema: schema, Table: table, Xmin: xmin}

	if op == types.OpTruncate {
		return event, nil
	}

	rest = strings.TrimSpace(rest)

	if op == types.OpUpdate {
		oldSeg, newSeg, hasOld := splitUpdateSegments(rest)
		if hasOld {
			old, err := parseKeyValuePairs(oldSeg)
			if err != nil {
				return types.ChangeEvent{}, &errs.SlotParseError{Line: line, Err: err}
			}
			event.Old = old
			rest = newSeg
		}
	}

	rest = strings.TrimPrefix(rest, "new-tuple:")
	fields, err := parseKeyValuePairs(strings.TrimSpace(rest))
	if err != nil {
		return types.ChangeEvent{}, &errs.SlotParseError{Line: line, Err: err}
	}

	switch op {
	case types.OpDelete:
		event.Old = fields
	default:
		event.New = fields
	}

	return event, nil
}

// cutColon splits at the first colon. It is used only to separate the
// fixed-format prefix segments ("schema.table:" and "OP:"), which come
// before any key[type]:value pair; the payload itself is handled by
// parseKeyValuePairs, not here.
func cutColon(s string) (before, after string, ok bool) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// splitUpdateSegments splits "old-key: ... new-tuple: ..." into the two
// segments. Returns hasOld=false if there is no old-key segment (the row's
// old values were not captured, e.g. REPLICA IDENTITY NOTHING).
func splitUpdateSegments(s string) (oldSeg, newSeg string, hasOld bool) {
	if !strings.HasPrefix(s, "old-key:") {
		return "", s, false
	}
	s = strings.TrimPrefix(s, "old-key:")
	idx := strings.Index(s, "new-tuple:")
	if idx < 0 {
		return strings.TrimSpace(s), "", true
	}
	return strings.TrimSpace(s[:idx]), s[idx:], true
}

// parseKeyValuePairs parses a run of "name[type]:value" tokens separated by
// single spaces, where value may itself contain spaces inside single
// quotes. Quoted strings are stripped of their surrounding quotes; the
// literal null is the Go nil value.
func parseKeyValuePairs(s string) (map[string]any, error) {
	out := map[string]any{}
	for len(s) > 0 {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			break
		}
		nameEnd := strings.Index(s, "[")
		if nameEnd < 0 {
			return nil, fmt.Errorf("expected name[type] at %q", s)
		}
		name := s[:nameEnd]
		s = s[nameEnd+1:]

		typeEnd := strings.Index(s, "]")
		if typeEnd < 0 {
			return nil, fmt.Errorf("unterminated type annotation for %q", name)
		}
		sqlType := s[:typeEnd]
		s = s[typeEnd+1:]

		if !strings.HasPrefix(s, ":") {
			return nil, fmt.Errorf("expected ':' after type for %q", name)
		}
		s = s[1:]

		value, remainder, err := parseValue(s, sqlType)
		if err != nil {
			return nil, fmt.Errorf("parse value for %q: %w", name, err)
		}
		out[name] = value
		s = remainder
	}
	return out, nil
}

// parseValue consumes one value token from the head of s and returns the
// typed value plus the unconsumed remainder.
func parseValue(s string, sqlType string) (any, string, error) {
	if strings.HasPrefix(s, "null") && (len(s) == 4 || s[4] == ' ') {
		return nil, strings.TrimPrefix(s, "null"), nil
	}

	var raw string
	var remainder string
	if strings.HasPrefix(s, "'") {
		end := -1
		for i := 1; i < len(s); i++ {
			if s[i] == '\'' {
				// Postgres escapes embedded quotes by doubling them.
				if i+1 < len(s) && s[i+1] == '\'' {
					i++
					continue
				}
				end = i
				break
			}
		}
		if end < 0 {
			return nil, "", fmt.Errorf("unterminated quoted value")
		}
		raw = strings.ReplaceAll(s[1:end], "''", "'")
		remainder = strings.TrimLeft(s[end+1:], " ")
	} else {
		sp := strings.IndexByte(s, ' ')
		if sp < 0 {
			raw, remainder = s, ""
		} else {
			raw, remainder = s[:sp], s[sp+1:]
		}
	}

	return coerceValue(raw, sqlType), remainder, nil
}

func coerceValue(raw, sqlType string) any {
	switch types.Column{Type: sqlType}.Kind() {
	case types.KindInteger:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case types.KindFloating:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case types.KindBoolean:
		switch raw {
		case "t", "true":
			return true
		case "f", "false":
			return false
		}
	}
	return raw
}
