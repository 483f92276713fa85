package sourcedb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgsync-go/pgsync/internal/errs"
	"github.com/pgsync-go/pgsync/internal/types"
)

func TestParseSlotLine_Insert(t *testing.T) {
	line := `table public.book: INSERT: isbn[character varying]:'abc' title[text]:'The Tiger Club' publisher_id[integer]:1`
	event, err := ParseSlotLine(line, 42)
	require.NoError(t, err)

	require.Equal(t, types.OpInsert, event.TgOp)
	require.Equal(t, "public", event.Schema)
	require.Equal(t, "book", event.Table)
	require.Equal(t, int64(42), event.Xmin)
	require.Nil(t, event.Old)
	require.Equal(t, map[string]any{
		"isbn":         "abc",
		"title":        "The Tiger Club",
		"publisher_id": int64(1),
	}, event.New)
}

func TestParseSlotLine_Update(t *testing.T) {
	line := `table public.book: UPDATE: old-key: isbn[character varying]:'abc' new-tuple: isbn[character varying]:'abc' title[text]:'New Title' publisher_id[integer]:2`
	event, err := ParseSlotLine(line, 7)
	require.NoError(t, err)

	require.Equal(t, types.OpUpdate, event.TgOp)
	require.Equal(t, map[string]any{"isbn": "abc"}, event.Old)
	require.Equal(t, map[string]any{
		"isbn":         "abc",
		"title":        "New Title",
		"publisher_id": int64(2),
	}, event.New)
}

func TestParseSlotLine_Delete(t *testing.T) {
	line := `table public.book: DELETE: isbn[character varying]:'abc'`
	event, err := ParseSlotLine(line, 9)
	require.NoError(t, err)

	require.Equal(t, types.OpDelete, event.TgOp)
	require.Nil(t, event.New)
	require.Equal(t, map[string]any{"isbn": "abc"}, event.Old)
}

func TestParseSlotLine_Truncate(t *testing.T) {
	line := `table public.book: TRUNCATE:`
	event, err := ParseSlotLine(line, 1)
	require.NoError(t, err)

	require.Equal(t, types.OpTruncate, event.TgOp)
	require.Nil(t, event.Old)
	require.Nil(t, event.New)
}

func TestParseSlotLine_NullValue(t *testing.T) {
	line := `table public.book: INSERT: isbn[character varying]:'abc' publisher_id[integer]:null`
	event, err := ParseSlotLine(line, 1)
	require.NoError(t, err)

	require.Contains(t, event.New, "publisher_id")
	require.Nil(t, event.New["publisher_id"])
}

func TestParseSlotLine_QuotedValueWithEmbeddedQuote(t *testing.T) {
	line := `table public.book: INSERT: isbn[character varying]:'abc' title[text]:'Tiger''s Club'`
	event, err := ParseSlotLine(line, 1)
	require.NoError(t, err)

	require.Equal(t, "Tiger's Club", event.New["title"])
}

func TestParseSlotLine_QuotedValueWithEmbeddedSpace(t *testing.T) {
	line := `table public.book: UPDATE: old-key: isbn[character varying]:'abc' new-tuple: isbn[character varying]:'abc' title[text]:'multi word title' publisher_id[integer]:3`
	event, err := ParseSlotLine(line, 1)
	require.NoError(t, err)

	require.Equal(t, "multi word title", event.New["title"])
	require.Equal(t, int64(3), event.New["publisher_id"])
}

func TestParseSlotLine_BooleanAndFloatCoercion(t *testing.T) {
	line := `table public.book: INSERT: in_print[boolean]:true rating[double precision]:4.5 banned[boolean]:f`
	event, err := ParseSlotLine(line, 1)
	require.NoError(t, err)

	require.Equal(t, true, event.New["in_print"])
	require.Equal(t, 4.5, event.New["rating"])
	require.Equal(t, false, event.New["banned"])
}

func TestParseSlotLine_UnquotedTextFallsBackToString(t *testing.T) {
	line := `table public.book: INSERT: status[my_enum]:available`
	event, err := ParseSlotLine(line, 1)
	require.NoError(t, err)

	require.Equal(t, "available", event.New["status"])
}

func TestParseSlotLine_MissingPrefixIsFatal(t *testing.T) {
	_, err := ParseSlotLine(`not a slot line`, 1)
	require.Error(t, err)

	var parseErr *errs.SlotParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseSlotLine_UnknownTgOpIsFatal(t *testing.T) {
	_, err := ParseSlotLine(`table public.book: MERGE: isbn[character varying]:'abc'`, 1)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrUnknownTgOp)

	var parseErr *errs.SlotParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseSlotLine_MalformedSchemaTableIsFatal(t *testing.T) {
	_, err := ParseSlotLine(`table publicbook: INSERT: isbn[character varying]:'abc'`, 1)
	require.Error(t, err)

	var parseErr *errs.SlotParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseSlotLine_UnterminatedQuoteIsFatal(t *testing.T) {
	_, err := ParseSlotLine(`table public.book: INSERT: title[text]:'unterminated`, 1)
	require.Error(t, err)

	var parseErr *errs.SlotParseError
	require.ErrorAs(t, err, &parseErr)
}
