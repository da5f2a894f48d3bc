package model

// Cursor is the continuation state a paginated handler carries across
// executions of the same logical batch. Offset strictly increases along a
// chain; the chain terminates when a fetch returns fewer rows than the
// page size.
type Cursor struct {
	Offset    int `json:"offset"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Advance returns the cursor for the next page after processing a full
// page of pageSize items.
func (c Cursor) Advance(pageSize int) Cursor {
	next := c
	next.Offset += pageSize
	return next
}
