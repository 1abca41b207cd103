package mcp

import (
	"encoding/base64"
	"strconv"
)

// Cursor is an opaque pagination token. mcpkit encodes it as a
// base64 offset rather than exposing the offset directly, so a future
// revision can switch to a different cursor encoding without breaking
// the wire contract.
type Cursor string

// PaginatedParams is embedded in list-style request params (tools/list,
// prompts/list, resources/list).
type PaginatedParams struct {
	Cursor Cursor `json:"cursor,omitempty"`
}

// PaginatedResult is embedded in list-style results.
type PaginatedResult struct {
	NextCursor Cursor `json:"nextCursor,omitempty"`
}

// decodeCursor turns a Cursor back into an offset into the underlying
// list. An empty cursor decodes to offset 0 (the first page).
func decodeCursor(c Cursor) (int, error) {
	if c == "" {
		return 0, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// encodeCursor builds a Cursor pointing at offset.
func encodeCursor(offset int) Cursor {
	return Cursor(base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset))))
}

// paginate slices names starting at cursor, returning at most
// pageSize items and the cursor for the next page (empty once
// exhausted).
func paginate(names []string, cursor Cursor, pageSize int) ([]string, Cursor, error) {
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if offset >= len(names) {
		return nil, "", nil
	}
	end := offset + pageSize
	if end > len(names) {
		end = len(names)
	}
	page := names[offset:end]
	next := Cursor("")
	if end < len(names) {
		next = encodeCursor(end)
	}
	return page, next, nil
}
