package component

import (
	"context"
	"strings"

	"github.com/solverhub/solver-node/internal/search"
)

// runInternetSearch answers the request with live web results. Search
// results depend on the outside world, so this component never
// coordinates through the solution store.
func (r *Runner) runInternetSearch(ctx context.Context, req *Request) (*Response, error) {
	var queries []string
	for _, item := range req.Input {
		if item.Query != "" {
			queries = append(queries, item.Query)
		}
	}
	if len(queries) == 0 {
		return trivial(req, InternetSearch, "No search queries provided."), nil
	}

	var reply string
	if r.searcher == nil {
		reply = "Internet search is not configured. Set the Google API key and cx identifier to enable it."
	} else {
		var (
			results []search.Result
			err     error
		)
		if len(queries) == 1 {
			results, err = r.searcher.Search(ctx, queries[0], 7)
		} else {
			results, err = r.searcher.SearchMany(ctx, queries, 5)
		}
		if err != nil {
			r.logger.Error("search failed", "queries", strings.Join(queries, ", "), "error", err)
			reply = "Search failed: " + err.Error()
		} else {
			reply = search.FormatResults(queries, results, 7)
		}
	}

	r.remember(ctx, req.ConversationID, "Search: "+strings.Join(queries, ", "), reply)

	return trivial(req, InternetSearch, reply), nil
}
