package models

// Item types reported by the hub in the x-ms-item-type response header.
const (
	ItemTypeTwin = "twin"
	ItemTypeRaw  = "raw"
)

// QueryRequest is a single page request for a query. Continuation is empty for the first page.
type QueryRequest struct {
	Text         string
	Continuation string
	PageSize     int // Maximum items per page requested from the hub (0 = server default)
}

// QueryPage is one page of query results. An empty Continuation marks the final page.
type QueryPage struct {
	Documents    []TwinDocument
	Continuation string
	ItemType     string
}

// IsLast reports whether no further page follows this one.
func (p *QueryPage) IsLast() bool {
	return p.Continuation == ""
}
