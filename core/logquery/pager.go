package logquery

import (
	"context"
	"errors"
)

// ErrDone is returned by Pager.Next after the last page.
var ErrDone = errors.New("no more log pages")

// FetchFunc retrieves one page for a filter.
type FetchFunc func(ctx context.Context, f Filter) (Page, error)

// Pager walks pages from newest to oldest.
type Pager struct {
	fetch  FetchFunc
	filter Filter
	done   bool
}

func NewPager(f Filter, fetch FetchFunc) *Pager {
	return &Pager{fetch: fetch, filter: f}
}

// Filter returns the filter of the next page to be fetched.
func (p *Pager) Filter() Filter { return p.filter }

// Done reports whether the last page has been returned.
func (p *Pager) Done() bool { return p.done }

// Next fetches the next page.
func (p *Pager) Next(ctx context.Context) (Page, error) {
	if p.done {
		return Page{}, ErrDone
	}
	page, err := p.fetch(ctx, p.filter)
	if err != nil {
		return Page{}, err
	}
	next, ok := page.Next(p.filter)
	if !ok {
		p.done = true
	} else {
		p.filter = next
	}
	return page, nil
}

// Collect gathers entries until the last page or maxPages pages (0 = no bound).
func (p *Pager) Collect(ctx context.Context, maxPages int) ([]Entry, error) {
	var out []Entry
	for pages := 0; !p.done && (maxPages <= 0 || pages < maxPages); pages++ {
		page, err := p.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, page.Logs...)
	}
	return out, nil
}
