package extractor

// PaginatorState is the state of a Paginator.
type PaginatorState int

const (
	StatePaging PaginatorState = iota
	StateMessageLimitReached
	StateExhausted
)

func (s PaginatorState) String() string {
	switch s {
	case StatePaging:
		return "paging"
	case StateMessageLimitReached:
		return "message-limit-reached"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Paginator tracks offset and limit arithmetic for paged mailbox searches.
// It performs no I/O; the caller reports what each fetch returned.
//
// Transitions:
//
//	Paging --PageFetched(0)--------------------------> Exhausted
//	Paging --MessageProcessed() with count >= limit--> MessageLimitReached
//	Paging --PageDone()------------------------------> Paging (offset += perPage)
type Paginator struct {
	state     PaginatorState
	offset    int
	perPage   int
	limit     int
	processed int
}

// NewPaginator returns a paginator in StatePaging. A limit of 0 means no limit.
// When a limit is set the page size never exceeds it.
func NewPaginator(batchSize, limit int) *Paginator {
	if batchSize < 1 {
		batchSize = 1
	}
	if limit < 0 {
		limit = 0
	}
	perPage := batchSize
	if limit > 0 && limit < perPage {
		perPage = limit
	}
	return &Paginator{state: StatePaging, perPage: perPage, limit: limit}
}

func (p *Paginator) State() PaginatorState {
	return p.state
}

// Next returns the offset and size of the page to fetch.
func (p *Paginator) Next() (offset, limit int) {
	return p.offset, p.perPage
}

// PageFetched records the size of the page just returned and reports whether
// paging continues.
func (p *Paginator) PageFetched(n int) bool {
	if p.state == StatePaging && n == 0 {
		p.state = StateExhausted
	}
	return p.state == StatePaging
}

// MessageProcessed counts one processed message and reports whether the
// caller may continue with the next message.
func (p *Paginator) MessageProcessed() bool {
	p.processed++
	if p.state == StatePaging && p.limit > 0 && p.processed >= p.limit {
		p.state = StateMessageLimitReached
	}
	return p.state == StatePaging
}

// PageDone advances the offset past the current page.
func (p *Paginator) PageDone() {
	if p.state == StatePaging {
		p.offset += p.perPage
	}
}

// Processed returns the number of messages counted so far.
func (p *Paginator) Processed() int {
	return p.processed
}
