//go:build ruleguard
// +build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// NoFixedSleep flags fixed sleeps. Waiting on the server goes through
// await.Condition, which polls with a deadline.
func NoFixedSleep(m dsl.Matcher) {
	m.Match("time.Sleep($_)").
		Report("Avoid time.Sleep; poll with await.Condition instead.")
}

// NoContextTODO flags context.TODO outside of main.
func NoContextTODO(m dsl.Matcher) {
	m.Match("context.TODO()").
		Where(!m.File().PkgPath.Matches(`/main$`)).
		Report("Pass the caller’s context instead of context.TODO().")
}
